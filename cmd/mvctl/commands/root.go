package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"metavault/pkg/app"
	"metavault/pkg/client"
	"metavault/pkg/config"
	"metavault/pkg/core"
	"metavault/pkg/service"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	docID   string

	// VC 是所有子命令使用的版本控制接口
	// 本地模式下是包着本地引擎的 service.Server，远程模式下是 gRPC 客户端
	VC service.VersionControlServer
	// Local 只在本地模式下非空，cat 这类直接读对象存储的命令需要它
	Local *app.App

	closeFn func() error
)

var rootCmd = &cobra.Command{
	Use:           "mvctl",
	Short:         "MetaVault: version control for clinical metadata documents",
	SilenceUsage:  true,
	SilenceErrors: false,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if VC != nil {
			return nil
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		log := cfg.Log.Logger(os.Stderr)

		if cfg.Server.Remote != "" {
			c, err := client.New(cfg.Server.Remote)
			if err != nil {
				return err
			}
			VC, closeFn = c, c.Close
			return nil
		}

		a, err := app.New(cmd.Context(), cfg, log)
		if err != nil {
			return fmt.Errorf("failed to open metavault: %w", err)
		}
		Local = a
		VC, closeFn = service.NewServer(a.Engine, log), a.Close
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closeFn == nil {
			return nil
		}
		return closeFn()
	},
}

// Execute 是入口
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mv/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&docID, "doc", "d", "", "document id, e.g. RE-001")

	// 这些参数绑定到 Viper，既可以写在 yaml 里，也可以用 flag / MV_* 环境变量覆盖
	bind := map[string]string{
		"server":       "server.remote",
		"user":         "user.name",
		"storage-path": "storage.path",
	}
	rootCmd.PersistentFlags().String("server", "", "address of a metavault server; empty opens the local repository")
	rootCmd.PersistentFlags().StringP("user", "u", "", "acting user (default from user.name)")
	rootCmd.PersistentFlags().String("storage-path", "", "directory to store objects")
	for flag, key := range bind {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Println("Failed to bind flag:", err)
			os.Exit(1)
		}
	}
}

// -----------------------------------------------------------------------------
// 子命令共用的辅助函数
// -----------------------------------------------------------------------------

func currentUser() string {
	if u := viper.GetString("user.name"); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "MetaVault User"
}

func requireDoc() (string, error) {
	if docID == "" {
		return "", fmt.Errorf("document id is required (use -d)")
	}
	return docID, nil
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }

// readDocument 读取 JSON / YAML 文件，"-" 表示标准输入
func readDocument(cmd *cobra.Command, path string) (*core.Document, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return core.ParseYAML(data)
	default:
		return core.ParseJSON(data)
	}
}
