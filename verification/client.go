package verification

import (
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
)

var _ ChainReader = (*ethclient.Client)(nil)

// Dial connects to the chain data provider's RPC endpoint. The returned
// client is read-only from paygate's point of view: receipts in, nothing
// out.
func Dial(rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain RPC: %w", err)
	}
	return client, nil
}
