// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beam232001/devault/walletdb"
	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
)

const defaultNet = "mainnet"

var datadir = btcutil.AppDataDir("devaultwallet", false)

// Flags.
var opts = struct {
	Force  bool   `short:"f" description:"Force removal without prompt"`
	DbPath string `long:"db" description:"Path to wallet database"`
}{
	Force:  false,
	DbPath: filepath.Join(datadir, defaultNet, "wallet.db"),
}

func init() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}
}

func yes(s string) bool {
	switch s {
	case "y", "Y", "yes", "Yes":
		return true
	default:
		return false
	}
}

func no(s string) bool {
	switch s {
	case "n", "N", "no", "No":
		return true
	default:
		return false
	}
}

func main() {
	os.Exit(mainInt())
}

// dropHistory deletes every transaction record along with the ordering
// counter and sync point, forcing a rescan on next load.  Keys are left
// untouched.
func dropHistory(db *walletdb.DB) (int, error) {
	dropped := 0
	err := db.Update(func(b *walletdb.Batch) error {
		txids, err := db.TxIDs()
		if err != nil {
			return err
		}
		for _, txid := range txids {
			if err := b.DeleteTx(txid); err != nil {
				return err
			}
			dropped++
		}
		if err := b.PutOrderPosNext(0); err != nil {
			return err
		}
		return b.DeleteBestBlock()
	})
	return dropped, err
}

func mainInt() int {
	fmt.Println("Database path:", opts.DbPath)
	_, err := os.Stat(opts.DbPath)
	if os.IsNotExist(err) {
		fmt.Println("Database file does not exist")
		return 1
	}

	for !opts.Force {
		fmt.Print("Drop all wallet transaction history? [y/N] ")

		scanner := bufio.NewScanner(bufio.NewReader(os.Stdin))
		if !scanner.Scan() {
			// Exit on EOF.
			return 0
		}
		err := scanner.Err()
		if err != nil {
			fmt.Println()
			fmt.Println(err)
			return 1
		}
		resp := scanner.Text()
		if yes(resp) {
			break
		}
		if no(resp) || resp == "" {
			return 0
		}

		fmt.Println("Enter yes or no.")
	}

	db, err := walletdb.Open(opts.DbPath)
	if err != nil {
		fmt.Println("Failed to open database:", err)
		return 1
	}
	defer db.Close()

	fmt.Println("Dropping transaction history")
	dropped, err := dropHistory(db)
	if err != nil {
		fmt.Println("Failed to drop transaction history:", err)
		return 1
	}
	fmt.Printf("Dropped %d transaction records.  The wallet will "+
		"require a rescan.\n", dropped)

	return 0
}
