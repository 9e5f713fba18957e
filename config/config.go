package config

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
)

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"

	// DefaultConfigFile is the name `pegd init` writes into the working directory.
	DefaultConfigFile = "pegd.json"
)

var (
	ErrUnknownNet         = errors.New("unknown mainchain network")
	ErrNoRPCCredentials   = errors.New("mainchain rpc needs rpc_password or rpc_cookie_path")
	ErrUnverifiedPegInNet = errors.New("validate_pegin can only be off on regtest or simnet")
)

type Config struct {
	API         API         `json:"api"`
	Database    Database    `json:"database"`
	MySQLConfig MySQLConfig `json:"mysql"`
	Federation  Federation  `json:"federation"`
	Mainchain   Mainchain   `json:"mainchain"`
	Withdrawal  Withdrawal  `json:"withdrawal"`
	Retry       Retry       `json:"retry"`
	LogDir      string      `json:"log_dir"`
	LogLevel    string      `json:"log_level"`
}

type API struct {
	ListeningPort uint64 `json:"listening_port"`
	IsReleaseMode bool   `json:"is_release_mode"`
}

type Database struct {
	Driver string `json:"driver"`
}

type MySQLConfig struct {
	Connection MySQLConnection `json:"connection"`
	LogMode    bool            `json:"log_mode"`
}

type MySQLConnection struct {
	Host     string `json:"host"`
	Port     uint   `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DbName   string `json:"database"`
}

// Federation describes who controls peg-in scripts. When XPubs is empty the
// key pairs held by the vault form the federation.
type Federation struct {
	Quorum          int      `json:"quorum"`
	XPubs           []string `json:"xpubs"`
	MaxKeyPairs     int      `json:"max_key_pairs"`
	VaultPassphrase string   `json:"vault_passphrase"`
}

type Mainchain struct {
	Net           string `json:"net"`
	Upstream      string `json:"upstream"`
	RPCUser       string `json:"rpc_user"`
	RPCPassword   string `json:"rpc_password"`
	RPCCookiePath string `json:"rpc_cookie_path"`
	Confirmations int64  `json:"confirmations"`
	ValidatePegin bool   `json:"validate_pegin"`
}

type Withdrawal struct {
	Fee          uint64 `json:"fee"`
	VaultSigning bool   `json:"vault_signing"`
}

type Retry struct {
	Attempts          int    `json:"attempts"`
	InitialIntervalMs uint64 `json:"initial_interval_ms"`
	MaxIntervalMs     uint64 `json:"max_interval_ms"`
}

func (r *Retry) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMs) * time.Millisecond
}

func (r *Retry) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMs) * time.Millisecond
}

func DefaultConfig() *Config {
	return &Config{
		API:      API{ListeningPort: 9890},
		Database: Database{Driver: DriverMySQL},
		MySQLConfig: MySQLConfig{
			Connection: MySQLConnection{
				Host:     "127.0.0.1",
				Port:     3306,
				Username: "root",
				DbName:   "peg_gateway",
			},
		},
		Federation: Federation{Quorum: 2},
		Mainchain: Mainchain{
			Net:           chaincfg.RegressionNetParams.Name,
			Upstream:      "127.0.0.1:18443",
			Confirmations: 6,
			ValidatePegin: true,
		},
		Withdrawal: Withdrawal{Fee: 1000},
		Retry:      Retry{Attempts: 3, InitialIntervalMs: 500, MaxIntervalMs: 5000},
		LogDir:     "log",
		LogLevel:   "info",
	}
}

// NetParams maps the configured mainchain network onto btcd chain params.
func (c *Config) NetParams() (*chaincfg.Params, error) {
	switch c.Mainchain.Net {
	case chaincfg.MainNetParams.Name:
		return &chaincfg.MainNetParams, nil
	case chaincfg.TestNet3Params.Name:
		return &chaincfg.TestNet3Params, nil
	case chaincfg.RegressionNetParams.Name:
		return &chaincfg.RegressionNetParams, nil
	case chaincfg.SimNetParams.Name:
		return &chaincfg.SimNetParams, nil
	case chaincfg.SigNetParams.Name:
		return &chaincfg.SigNetParams, nil
	default:
		return nil, errors.Wrap(ErrUnknownNet, c.Mainchain.Net)
	}
}

func (c *Config) LogPath() string {
	if filepath.IsAbs(c.LogDir) {
		return c.LogDir
	}

	wd, err := os.Getwd()
	if err != nil {
		return c.LogDir
	}
	return filepath.Join(wd, c.LogDir)
}

func ExportConfigFile(path string, config *Config) error {
	buf := new(bytes.Buffer)

	encoder := json.NewEncoder(buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return err
	}

	return ioutil.WriteFile(path, buf.Bytes(), 0644)
}

// LoadConfigFile decodes the file over the given config, so fields missing
// from the file keep the values already set.
func LoadConfigFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}

func NewConfigWithPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := LoadConfigFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "load config file %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configs pegd must not start with.
func (c *Config) Validate() error {
	params, err := c.NetParams()
	if err != nil {
		return err
	}

	if c.Mainchain.RPCPassword == "" && c.Mainchain.RPCCookiePath == "" {
		return ErrNoRPCCredentials
	}

	// Without the mainchain node any header with a matching merkle root
	// would pass as a deposit.
	if !c.Mainchain.ValidatePegin && params != &chaincfg.RegressionNetParams && params != &chaincfg.SimNetParams {
		return errors.Wrap(ErrUnverifiedPegInNet, params.Name)
	}
	return nil
}
