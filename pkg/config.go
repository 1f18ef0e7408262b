package astropix

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Configuration struct {
	Verbosity        int      `json:"verbosity"`
	Inputs           []string `json:"inputs"`
	OutputDir        string   `json:"output_dir"`
	Schema           string   `json:"schema"`
	Formats          []string `json:"formats"`
	Columns          []string `json:"columns"`
	NumWorkers       int      `json:"num_workers"`
	CompressionLevel int      `json:"compression_level"`
	BlockSize        int      `json:"block_size"`
	MaxSegment       int      `json:"max_segment"`
	SkipRows         int      `json:"skip_rows"`

	NoDB     bool   `json:"no_db"`
	DBDriver string `json:"db_driver"`
	DBSource string `json:"db_source"`
	Host     string `json:"host"`
	User     string `json:"user"`
	Passwd   string `json:"pass"`
	DBName   string `json:"dbname"`

	MulticastGroup string `json:"multicast_group"`
	MulticastPort  int    `json:"multicast_port"`
	MulticastTTL   int    `json:"multicast_ttl"`

	SerialPort string `json:"serial_port"`
	BaudRate   int    `json:"baud_rate"`

	PollInterval Duration `json:"poll_interval"`
	PlotDir      string   `json:"plot_dir"`
}

func DefaultConfiguration() Configuration {
	return Configuration{
		Verbosity:        0,
		Schema:           AstroPix4.Name,
		Formats:          []string{"apx"},
		NumWorkers:       1,
		CompressionLevel: 4,
		BlockSize:        DefaultBlockSize,
		MaxSegment:       DefaultMaxSegment,
		SkipRows:         -1,
		NoDB:             true,
		DBDriver:         "sqlite",
		DBSource:         "astropix_runs.db",
		Host:             "localhost",
		User:             "astropix",
		DBName:           "astropix",
		MulticastGroup:   DefaultMulticastGroup,
		MulticastPort:    DefaultMulticastPort,
		MulticastTTL:     DefaultMulticastTTL,
		BaudRate:         115200,
		PollInterval:     Duration(DefaultPollInterval),
	}
}

// LoadConfiguration reads a JSON configuration over the defaults. An
// empty filename returns the defaults.
func LoadConfiguration(filename string) (Configuration, error) {
	config := DefaultConfiguration()
	if filename == "" {
		return config, nil
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = json.Unmarshal(data, &config)
	if err != nil {
		return config, err
	}
	return config, nil
}

// HitSchema resolves the configured chip version.
func (c Configuration) HitSchema() (*HitSchema, error) {
	return SchemaByName(c.Schema)
}

// LogSkipRows is the number of banner rows of a legacy log, the schema
// default when not configured.
func (c Configuration) LogSkipRows(schema *HitSchema) int {
	if c.SkipRows < 0 {
		return schema.SkipRows
	}
	return c.SkipRows
}

// PrintConfiguration logs the configuration, one entry per line.
func PrintConfiguration(config Configuration, l Logger) {
	l.Info(fmt.Sprintf("Inputs: %v", config.Inputs), "config")
	l.Info(fmt.Sprintf("Output dir: %s", config.OutputDir), "config")
	l.Info(fmt.Sprintf("Schema: %s", config.Schema), "config")
	l.Info(fmt.Sprintf("Formats: %v", config.Formats), "config")
	l.Info(fmt.Sprintf("Number of workers: %d", config.NumWorkers), "config")
	l.Info(fmt.Sprintf("Compression level: %d", config.CompressionLevel), "config")
	l.Info(fmt.Sprintf("No DB: %t", config.NoDB), "config")
	l.Info(fmt.Sprintf("DB driver: %s", config.DBDriver), "config")
	l.Info(fmt.Sprintf("Multicast: %s:%d", config.MulticastGroup, config.MulticastPort), "config")
	l.Info(fmt.Sprintf("Poll interval: %s", config.PollInterval), "config")
	l.Info(fmt.Sprintf("Verbosity: %d", config.Verbosity), "config")
}

// Duration reads either a Go duration string ("10s") or a number of
// seconds from JSON.
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(value * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}
