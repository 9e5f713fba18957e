package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestExportAndLoadConfig(t *testing.T) {
	tmpDir, err := ioutil.TempDir("", "pegd")
	if err != nil {
		t.Fatalf("failed to create temporary data folder: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	config := DefaultConfig()
	config.Federation.XPubs = []string{"tpubA", "tpubB"}
	config.Withdrawal.VaultSigning = true
	config.Mainchain.RPCUser = "pegd"
	config.Mainchain.RPCPassword = "secret"
	path := filepath.Join(tmpDir, DefaultConfigFile)
	if err := ExportConfigFile(path, config); err != nil {
		t.Fatal(err)
	}

	loaded, err := NewConfigWithPath(path)
	require.NoError(t, err)
	require.Equal(t, config, loaded)
}

func TestLoadConfigKeepsDefaults(t *testing.T) {
	tmpDir, err := ioutil.TempDir("", "pegd")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "partial.json")
	require.NoError(t, ioutil.WriteFile(path, []byte(`{"database":{"driver":"memory"},"federation":{"quorum":3},"mainchain":{"rpc_cookie_path":"/var/lib/bitcoind/.cookie"}}`), 0644))

	cfg, err := NewConfigWithPath(path)
	require.NoError(t, err)
	require.Equal(t, DriverMemory, cfg.Database.Driver)
	require.Equal(t, 3, cfg.Federation.Quorum)
	require.Equal(t, uint64(1000), cfg.Withdrawal.Fee)
	require.Equal(t, 3, cfg.Retry.Attempts)
	require.Equal(t, "/var/lib/bitcoind/.cookie", cfg.Mainchain.RPCCookiePath)
	require.True(t, cfg.Mainchain.ValidatePegin)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		desc          string
		net           string
		password      string
		cookiePath    string
		validatePegin bool
		err           error
	}{
		{desc: "password", net: "mainnet", password: "secret", validatePegin: true},
		{desc: "cookie", net: "mainnet", cookiePath: "/root/.bitcoin/.cookie", validatePegin: true},
		{desc: "no credentials", net: "regtest", validatePegin: true, err: ErrNoRPCCredentials},
		{desc: "unverified regtest", net: "regtest", password: "secret"},
		{desc: "unverified simnet", net: "simnet", password: "secret"},
		{desc: "unverified mainnet", net: "mainnet", password: "secret", err: ErrUnverifiedPegInNet},
		{desc: "unverified testnet", net: "testnet3", password: "secret", err: ErrUnverifiedPegInNet},
		{desc: "unknown net", net: "vapor", password: "secret", validatePegin: true, err: ErrUnknownNet},
	}

	for _, c := range cases {
		cfg := DefaultConfig()
		cfg.Mainchain.Net = c.net
		cfg.Mainchain.RPCPassword = c.password
		cfg.Mainchain.RPCCookiePath = c.cookiePath
		cfg.Mainchain.ValidatePegin = c.validatePegin
		require.Equal(t, c.err, errors.Cause(cfg.Validate()), c.desc)
	}
}

func TestDefaultConfigNeedsCredentials(t *testing.T) {
	tmpDir, err := ioutil.TempDir("", "pegd")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, DefaultConfigFile)
	require.NoError(t, ExportConfigFile(path, DefaultConfig()))

	_, err = NewConfigWithPath(path)
	require.Equal(t, ErrNoRPCCredentials, errors.Cause(err))
}

func TestNetParams(t *testing.T) {
	cases := []struct {
		net  string
		want *chaincfg.Params
		err  error
	}{
		{net: "mainnet", want: &chaincfg.MainNetParams},
		{net: "testnet3", want: &chaincfg.TestNet3Params},
		{net: "regtest", want: &chaincfg.RegressionNetParams},
		{net: "simnet", want: &chaincfg.SimNetParams},
		{net: "vapor", err: ErrUnknownNet},
	}

	for i, c := range cases {
		cfg := DefaultConfig()
		cfg.Mainchain.Net = c.net
		got, err := cfg.NetParams()
		if errors.Cause(err) != c.err {
			t.Fatalf("case %d: got err %v, want %v", i, err, c.err)
		}

		if got != c.want {
			t.Fatalf("case %d: got params %v, want %v", i, got, c.want)
		}
	}
}
