// Copyright (c) 2014-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/beam232001/devault/internal/cfgutil"
	"github.com/beam232001/devault/internal/prompt"
	"github.com/beam232001/devault/internal/zero"
	"github.com/beam232001/devault/pgpwordlist"
	"github.com/beam232001/devault/wallet"
	"github.com/beam232001/devault/walletdb"
)

// checkCreateDir checks that the path exists and is a directory.  If
// path does not exist, it is created.
func checkCreateDir(path string) error {
	if fi, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0700); err != nil {
				return fmt.Errorf("cannot create directory: %w",
					err)
			}
		} else {
			return fmt.Errorf("error checking directory: %w", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("path '%s' is not a directory", path)
		}
	}
	return nil
}

// createWallet prompts the user for a seed and private passphrase, then
// creates and initializes a new wallet database in the network
// directory.
func createWallet(cfg *config, dbPath string) error {
	if err := checkCreateDir(filepath.Dir(dbPath)); err != nil {
		return err
	}
	exists, err := cfgutil.FileExists(dbPath)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("wallet database already exists at %v", dbPath)
	}

	reader := bufio.NewReader(os.Stdin)
	seed, err := prompt.Seed(reader)
	if err != nil {
		return err
	}
	defer zero.Bytes(seed)
	privPass, err := prompt.PrivatePass(reader)
	if err != nil {
		return err
	}
	defer zero.Bytes(privPass)

	words, err := pgpwordlist.ToStringChecksum(seed)
	if err != nil {
		return err
	}

	db, err := walletdb.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	w := wallet.New(wallet.Config{
		DB:          db,
		NetParams:   activeNet.Params,
		KeyPoolSize: cfg.KeyPoolSize,
		FeeRate:     cfg.FeeRate.Amount,
	})
	if err := w.Initialize(seed, []byte(words)); err != nil {
		return err
	}
	if len(privPass) > 0 {
		if err := w.Encrypt(privPass); err != nil {
			return err
		}
		if err := w.Lock(); err != nil {
			return err
		}
	}

	fmt.Println("The wallet has been created successfully.")
	return nil
}
