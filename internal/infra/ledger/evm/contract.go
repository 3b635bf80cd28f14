package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const certificateABI = `[
  {"type":"function","name":"issueCertificate","stateMutability":"payable",
   "inputs":[{"name":"student","type":"address"},{"name":"ipfsHash","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"organizations","stateMutability":"view",
   "inputs":[{"name":"","type":"address"}],
   "outputs":[{"name":"name","type":"string"},{"name":"isRegistered","type":"bool"},{"name":"issuanceFee","type":"uint256"}]}
]`

const (
	methodIssue         = "issueCertificate"
	methodOrganizations = "organizations"
)

var contractABI = mustParseABI(certificateABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
