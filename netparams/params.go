// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import "github.com/btcsuite/btcd/chaincfg"

// Params is used to group parameters for various networks such as the
// main network and test networks.
type Params struct {
	*chaincfg.Params
	NodeRPCPort string
}

// MainNetParams contains parameters specific to the main network.
var MainNetParams = Params{
	Params:      &chaincfg.MainNetParams,
	NodeRPCPort: "3339",
}

// TestNetParams contains parameters specific to the test network.
var TestNetParams = Params{
	Params:      &chaincfg.TestNet3Params,
	NodeRPCPort: "13339",
}

// RegNetParams contains parameters specific to the regression test
// network.
var RegNetParams = Params{
	Params:      &chaincfg.RegressionNetParams,
	NodeRPCPort: "18332",
}
