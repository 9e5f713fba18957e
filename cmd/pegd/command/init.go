package command

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/bytom/peggateway/config"
)

var initFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Run:   initFiles,
}

func init() {
	RootCmd.AddCommand(initFilesCmd)
}

func initFiles(cmd *cobra.Command, args []string) {
	configFilePath := viper.GetString(configFileFlag)
	if _, err := os.Stat(configFilePath); !os.IsNotExist(err) {
		log.WithFields(log.Fields{"module": logModule, "config": configFilePath}).Fatal("Already exists config file.")
	}

	if err := cfg.ExportConfigFile(configFilePath, cfg.DefaultConfig()); err != nil {
		log.WithFields(log.Fields{"module": logModule, "config": configFilePath, "error": err}).Fatal("fail on export config file")
	}

	log.WithFields(log.Fields{"module": logModule, "config": configFilePath}).Info("Initialized pegd, set mainchain rpc_password or rpc_cookie_path before run")
}
