// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/beam232001/devault/chain"
	"github.com/beam232001/devault/internal/cfgutil"
	"github.com/beam232001/devault/wallet"
	"github.com/beam232001/devault/walletdb"
	"github.com/davecgh/go-spew/spew"
)

const semverString = "0.1.0"

func version() string {
	return semverString
}

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since
// deferred functions (such as log flushing) are not called with calls
// to os.Exit.  Instead, main runs this function and checks for a
// non-nil error, at which point any defers have already run, and if the
// error is non-nil, the program can be exited with an error exit
// status.
func walletMain() error {
	// Load configuration and parse command line.  This also initializes
	// logging and configures it accordingly.
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Show version at startup.
	log.Infof("Version %s (Go version %s)", version(), runtime.Version())

	netDir := networkDir(cfg.AppDataDir.Value, activeNet.Params)
	dbPath := filepath.Join(netDir, walletDbName)

	if cfg.Create {
		return createWallet(cfg, dbPath)
	}

	exists, err := cfgutil.FileExists(dbPath)
	if err != nil {
		return err
	}
	if !exists {
		log.Errorf("The wallet does not exist.  Run with the " +
			"--create option to initialize and create it.")
		return fmt.Errorf("wallet database does not exist: %v", dbPath)
	}

	if cfg.NoInitialLoad {
		log.Info("Deferring wallet load")
		return nil
	}

	db, err := walletdb.Open(dbPath)
	if err != nil {
		log.Errorf("Failed to open wallet database: %v", err)
		return err
	}

	// The chain oracle speaks to the node over RPC when an endpoint is
	// configured; otherwise the embedding node injects one.
	var oracle chain.Oracle
	var rpcOracle *chain.RPCOracle
	if cfg.RPCConnect != "" {
		rpcOracle, err = chain.NewRPCOracle(cfg.RPCConnect,
			cfg.RPCUser, cfg.RPCPass)
		if err != nil {
			log.Errorf("Failed to create node RPC client: %v", err)
			_ = db.Close()
			return err
		}
		oracle = rpcOracle
	}

	w := wallet.New(wallet.Config{
		DB:          db,
		Chain:       oracle,
		NetParams:   activeNet.Params,
		KeyPoolSize: cfg.KeyPoolSize,
		FeeRate:     cfg.FeeRate.Amount,
	})
	result, err := w.Load()
	if err != nil {
		if walletdb.IsError(err, walletdb.ErrDbNoncritical) {
			n := result.Unreadable
			log.Warnf("Wallet loaded with %d unreadable %s: %v",
				n, pickNoun(n, "record", "records"), err)
		} else {
			log.Errorf("Failed to load wallet: %v", err)
			_ = db.Close()
			return err
		}
	}
	log.Debugf("Load result: %v", newLogClosure(func() string {
		return spew.Sdump(result)
	}))
	log.Infof("Balance: spendable %v, unconfirmed %v, immature %v",
		w.Balance(), w.UnconfirmedBalance(), w.ImmatureBalance())

	w.Start()
	if result.RescanRequired || cfg.Rescan {
		if rpcOracle != nil {
			go func() {
				if err := w.Rescan(0); err != nil {
					log.Errorf("Rescan failed: %v", err)
				}
			}()
		} else {
			log.Warnf("A blockchain rescan is required to rebuild " +
				"transaction history; restart with --rpcconnect " +
				"to run it")
		}
	}

	addInterruptHandler(func() {
		if err := w.Stop(); err != nil {
			log.Errorf("Failed to flush wallet on shutdown: %v",
				err)
		}
		if rpcOracle != nil {
			rpcOracle.Shutdown()
		}
		if err := db.Close(); err != nil {
			log.Errorf("Failed to close wallet database: %v", err)
		}
		log.Info("Shutdown complete")
	})

	<-interruptHandlersDone
	return nil
}
