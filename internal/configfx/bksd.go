package configfx

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	ConfigBackupDirectory = "backup_directory"
	ConfigMountBase       = "mount_base"
	ConfigTransferEngine  = "transfer_engine"
	ConfigRetryAttempts   = "retry_attempts"
	ConfigSimulation      = "simulation"
	ConfigVerbose         = "verbose"
	ConfigRPCEnabled      = "rpc_enabled"
	ConfigRPCBind         = "rpc_bind"
	ConfigVerifyTransfers = "verify_transfers"
)

// BksdConfig is the fully-resolved set of settings from spec §6, bound to
// BKSD_-prefixed environment variables (or a config file / -c flag) via
// viper, the same way the teacher binds its "backuper"-prefixed settings.
type BksdConfig struct {
	BackupDirectory string
	MountBase       string
	TransferEngine  string
	RetryAttempts   int
	Simulation      bool
	Verbose         bool
	RPCEnabled      bool
	RPCBind         string
	VerifyTransfers bool
}

func BksdConfigProvider(v *viper.Viper) (*BksdConfig, error) {
	v.SetDefault(ConfigMountBase, "/run/bksd")
	v.SetDefault(ConfigTransferEngine, "rsync")
	v.SetDefault(ConfigRetryAttempts, 3)
	v.SetDefault(ConfigSimulation, false)
	v.SetDefault(ConfigVerbose, false)
	v.SetDefault(ConfigRPCEnabled, true)
	v.SetDefault(ConfigRPCBind, "127.0.0.1:9847")
	v.SetDefault(ConfigVerifyTransfers, true)

	backupDirectory := v.GetString(ConfigBackupDirectory)
	if backupDirectory == "" {
		return nil, errors.Errorf("%s_%s is required", strings.ToUpper(EnvPrefix), "BACKUP_DIRECTORY")
	}

	engine := v.GetString(ConfigTransferEngine)
	if engine != "rsync" && engine != "simulated" {
		return nil, errors.Errorf("invalid transfer engine %q: must be \"rsync\" or \"simulated\"", engine)
	}

	return &BksdConfig{
		BackupDirectory: backupDirectory,
		MountBase:       v.GetString(ConfigMountBase),
		TransferEngine:  engine,
		RetryAttempts:   v.GetInt(ConfigRetryAttempts),
		Simulation:      v.GetBool(ConfigSimulation),
		Verbose:         v.GetBool(ConfigVerbose),
		RPCEnabled:      v.GetBool(ConfigRPCEnabled),
		RPCBind:         v.GetString(ConfigRPCBind),
		VerifyTransfers: v.GetBool(ConfigVerifyTransfers),
	}, nil
}
