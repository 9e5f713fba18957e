package command

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cmn "github.com/tendermint/tmlibs/common"

	"github.com/bytom/peggateway/api"
	"github.com/bytom/peggateway/claim"
	"github.com/bytom/peggateway/common"
	cfg "github.com/bytom/peggateway/config"
	"github.com/bytom/peggateway/database"
	pegLog "github.com/bytom/peggateway/log"
	"github.com/bytom/peggateway/service"
)

const (
	logModule      = "pegd"
	configFileFlag = "config_file"
)

var (
	RootCmd = &cobra.Command{
		Use:   "pegd",
		Short: "Peg gateway between the mainchain and the sidechain.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the peg gateway",
		RunE:  runPegd,
	}
)

func init() {
	RootCmd.PersistentFlags().String(configFileFlag, cfg.DefaultConfigFile, "Path of the JSON config file")
	viper.BindPFlag(configFileFlag, RootCmd.PersistentFlags().Lookup(configFileFlag))

	RootCmd.AddCommand(runCmd)
}

func openStore(config *cfg.Config) (database.Store, func()) {
	switch config.Database.Driver {
	case cfg.DriverMemory:
		log.WithFields(log.Fields{"module": logModule}).Warn("memory store in use, state is lost on exit")
		return database.NewMemoryStore(), func() {}

	case cfg.DriverMySQL:
		db, err := common.NewMySQLDB(config.MySQLConfig)
		if err != nil {
			cmn.Exit(cmn.Fmt("initialize mysql db error:[%s]", err.Error()))
		}

		store, err := database.NewSQLStore(db)
		if err != nil {
			cmn.Exit(cmn.Fmt("initialize sql store error:[%s]", err.Error()))
		}
		return store, func() { db.Close() }

	default:
		cmn.Exit(cmn.Fmt("unknown database driver:[%s]", config.Database.Driver))
	}
	return nil, nil
}

func runPegd(cmd *cobra.Command, args []string) error {
	configFilePath := viper.GetString(configFileFlag)
	config, err := cfg.NewConfigWithPath(configFilePath)
	if err != nil {
		cmn.Exit(cmn.Fmt("Failed to load config:[%s]", err.Error()))
	}

	if err := pegLog.InitLogFile(config); err != nil {
		cmn.Exit(cmn.Fmt("Failed to init log:[%s]", err.Error()))
	}

	store, closeStore := openStore(config)
	defer closeStore()

	node, err := service.NewNode(&config.Mainchain, config.Retry)
	if err != nil {
		cmn.Exit(cmn.Fmt("initialize mainchain node error:[%s]", err.Error()))
	}
	defer node.Close()

	var chain claim.ChainClient
	if config.Mainchain.ValidatePegin {
		chain = node
	}

	server, err := api.NewServer(config, store, chain, node)
	if err != nil {
		cmn.Exit(cmn.Fmt("initialize api server error:[%s]", err.Error()))
	}

	log.WithFields(log.Fields{
		"module":   logModule,
		"config":   configFilePath,
		"port":     config.API.ListeningPort,
		"net":      config.Mainchain.Net,
		"upstream": config.Mainchain.Upstream,
	}).Info("pegd started")
	return server.Run()
}
