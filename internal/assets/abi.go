package assets

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	w3 "github.com/lmittmann/w3"
)

var (
	funcBalanceOf = w3.MustNewFunc("balanceOf(address)", "uint256")
	funcSymbol    = w3.MustNewFunc("symbol()", "string")
	funcDecimals  = w3.MustNewFunc("decimals()", "uint8")
	funcTransfer  = w3.MustNewFunc("transfer(address,uint256)", "bool")

	funcOwnerOf             = w3.MustNewFunc("ownerOf(uint256)", "address")
	funcTokenOfOwnerByIndex = w3.MustNewFunc("tokenOfOwnerByIndex(address,uint256)", "uint256")
	funcTransferFrom        = w3.MustNewFunc("transferFrom(address,address,uint256)", "")

	funcClaimableTokens = w3.MustNewFunc("claimableTokens(address)", "uint256")
	funcClaim           = w3.MustNewFunc("claim()", "")
)

// EncodeERC20Transfer encodes transfer(to, amount).
func EncodeERC20Transfer(to common.Address, amount *big.Int) ([]byte, error) {
	return funcTransfer.EncodeArgs(to, amount)
}

// EncodeERC721TransferFrom encodes transferFrom(from, to, id).
func EncodeERC721TransferFrom(from, to common.Address, id *big.Int) ([]byte, error) {
	return funcTransferFrom.EncodeArgs(from, to, id)
}

// EncodeClaim encodes claim().
func EncodeClaim() ([]byte, error) {
	return funcClaim.EncodeArgs()
}
