// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/beam232001/devault/internal/cfgutil"
	"github.com/beam232001/devault/netparams"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "devaultwallet.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "devaultwallet.log"
	defaultKeyPoolSize    = 100

	walletDbName = "wallet.db"
)

var (
	defaultAppDataDir = btcutil.AppDataDir("devaultwallet", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir,
		defaultConfigFilename)
)

var activeNet = &netparams.MainNetParams

type config struct {
	// General application behavior.
	ConfigFile  *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool                    `short:"V" long:"version" description:"Display version information and exit"`
	Create      bool                    `long:"create" description:"Create the wallet if it does not exist"`
	AppDataDir  *cfgutil.ExplicitString `short:"A" long:"appdata" description:"Application data directory for wallet config, databases and logs"`
	TestNet     bool                    `long:"testnet" description:"Use the test network"`
	RegNet      bool                    `long:"regnet" description:"Use the regression test network"`
	NoInitialLoad bool                  `long:"noinitialload" description:"Defer wallet load to be triggered later"`
	DebugLevel  string                  `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LogDir      string                  `long:"logdir" description:"Directory to log output"`

	// Wallet options.
	KeyPoolSize int                 `long:"keypoolsize" description:"Number of pre-derived keys kept ready per branch"`
	FeeRate     *cfgutil.AmountFlag `long:"feerate" description:"Fee rate in DVT/kB for new transactions"`
	Rescan      bool                `long:"rescan" description:"Rescan the blockchain for wallet transactions on startup"`

	// Node connection.
	RPCConnect string `short:"c" long:"rpcconnect" description:"Hostname/IP and port of devaultd RPC server to connect to"`
	RPCUser    string `short:"u" long:"rpcuser" description:"Username for node RPC connections"`
	RPCPass    string `short:"P" long:"rpcpass" default-mask:"-" description:"Password for node RPC connections"`
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = strings.Replace(path, "~", homeDir, 1)
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// networkDir returns the directory name of a network directory to hold
// wallet files.
func networkDir(dataDir string, chainParams *chaincfg.Params) string {
	netname := chainParams.Name
	if netname == "testnet3" {
		netname = "testnet"
	}
	return filepath.Join(dataDir, netname)
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//	1) Start with a default config with sane settings
//	2) Pre-parse the command line to check for an alternative config file
//	3) Load configuration file overwriting defaults with any specified options
//	4) Parse CLI options and overwrite/add any specified options
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile:  cfgutil.NewExplicitString(defaultConfigFile),
		AppDataDir:  cfgutil.NewExplicitString(defaultAppDataDir),
		DebugLevel:  defaultLogLevel,
		LogDir:      "",
		KeyPoolSize: defaultKeyPoolSize,
		FeeRate:     cfgutil.NewAmountFlag(0),
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, version())
		os.Exit(0)
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	configFilePath := preCfg.ConfigFile.Value
	if preCfg.ConfigFile.ExplicitlySet() {
		configFilePath = cleanAndExpandPath(configFilePath)
	} else if preCfg.AppDataDir.ExplicitlySet() {
		configFilePath = filepath.Join(
			cleanAndExpandPath(preCfg.AppDataDir.Value),
			defaultConfigFilename)
	}
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Choose the active network params based on the selected network.
	// Multiple networks can't be selected simultaneously.
	numNets := 0
	if cfg.TestNet {
		activeNet = &netparams.TestNetParams
		numNets++
	}
	if cfg.RegNet {
		activeNet = &netparams.RegNetParams
		numNets++
	}
	if numNets > 1 {
		str := "%s: the testnet and regnet params can't be used " +
			"together -- choose one"
		err := fmt.Errorf(str, "loadConfig")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Append the network type to the data and log directories so they
	// are "namespaced" per network.
	cfg.AppDataDir.Value = cleanAndExpandPath(cfg.AppDataDir.Value)
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.AppDataDir.Value,
			defaultLogDirname)
	}
	cfg.LogDir = filepath.Join(cleanAndExpandPath(cfg.LogDir),
		activeNet.Params.Name)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("loadConfig: %v", err)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	if cfg.KeyPoolSize <= 0 {
		cfg.KeyPoolSize = defaultKeyPoolSize
	}

	// Normalize the optional node RPC address with the network's
	// default port.
	if cfg.RPCConnect != "" {
		cfg.RPCConnect, err = cfgutil.NormalizeAddress(cfg.RPCConnect,
			activeNet.NodeRPCPort)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	return &cfg, remainingArgs, nil
}
