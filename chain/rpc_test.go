// Copyright (c) 2017 The btcsuite developers
// Copyright (c) 2019 The DeVault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRPCOracle(t *testing.T) {
	// The client dials lazily, so construction succeeds without a
	// reachable server.
	oracle, err := NewRPCOracle("localhost:3339", "user", "pass")
	require.NoError(t, err)
	oracle.Shutdown()
}
