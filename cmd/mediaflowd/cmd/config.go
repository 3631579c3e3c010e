package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/castwell/mediaflow/internal/config"
	"github.com/castwell/mediaflow/pkg/bytesize"
	"github.com/castwell/mediaflow/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing mediaflowd configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  mediaflowd config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, .mediaflow.yaml, /etc/mediaflow/config.yaml)
  - Environment variables (MEDIAFLOW_SERVER_PORT, MEDIAFLOW_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the MEDIAFLOW_ prefix and underscores for nesting.
Example: server.port -> MEDIAFLOW_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and byte sizes for
// human readability rather than dumping their raw underlying integers.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(fv)
		case config.ByteSize:
			result[key] = bytesize.Format(bytesize.Size(fv.Bytes()))
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	header := []string{
		"# mediaflowd Configuration File",
		"# ==============================",
		"#",
		"# All values shown below are defaults.",
		"# Duration format: 30s, 5m, 1h",
		"# Size format: 5MB, 1GB",
		"#",
		"# Environment variable overrides:",
		"#   MEDIAFLOW_SERVER_HOST, MEDIAFLOW_SERVER_PORT",
		"#   MEDIAFLOW_DATABASE_DRIVER, MEDIAFLOW_DATABASE_DSN",
		"#   MEDIAFLOW_STORAGE_BASE_DIR",
		"#   MEDIAFLOW_LOGGING_LEVEL, MEDIAFLOW_LOGGING_FORMAT",
		"#   etc.",
		"#",
		"",
	}
	fmt.Println(strings.Join(header, "\n"))
	fmt.Print(string(yamlData))

	return nil
}
