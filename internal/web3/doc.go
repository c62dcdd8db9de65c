// Package web3 describes the chains agent wallets operate on and the client
// contract the wallet skills use to read balances and send transfers.
package web3
