// Package config loads the proxy's runtime configuration from CLI flags
// and environment variables, per SPEC_FULL.md §4.12 / §6. A flag always
// wins over its environment-variable counterpart; viper provides the
// binding, matching the teacher's go.mod choice of spf13/viper for
// configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/prn-tf/cipherproxy/internal/awssign"
	"github.com/prn-tf/cipherproxy/internal/keyring"
	"github.com/prn-tf/cipherproxy/internal/traversal"
)

// DefaultChunkSize is used when neither --chunk-size nor DS_CHUNK_SIZE is
// set, per SPEC_FULL.md §3.
const DefaultChunkSize = 65536

// DefaultKeyringFile is used when neither --keyring-file nor DS_KEYRING is
// set.
const DefaultKeyringFile = "keyring.toml"

// DefaultLocalEncryptionDirectory is used when neither
// --local-encryption-directory nor DS_LOCAL_ENCRYPTION_DIRECTORY is set.
const DefaultLocalEncryptionDirectory = "cipherproxy-local-encryption"

// DefaultUnixSocketPath is the fixed Unix domain socket the proxy mode
// always binds in addition to its TCP listener, per SPEC_FULL.md §6.
const DefaultUnixSocketPath = "/tmp/actix-uds.socket"

// Mode identifies which of the four CLI subcommands produced this Config.
type Mode int

const (
	ModeEncrypt Mode = iota
	ModeDecrypt
	ModeProxy
	ModeAddKey
)

// ConfigError wraps any failure encountered while building a Config: a
// missing/invalid flag or environment variable, an unreadable password
// file, or a keyring that fails to load. Per §7 this is fatal at startup.
type ConfigError struct {
	msg string
	err error
}

func (e *ConfigError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("config: %s: %v", e.msg, e.err)
	}
	return fmt.Sprintf("config: %s", e.msg)
}

func (e *ConfigError) Unwrap() error { return e.err }

func configErr(msg string, err error) error {
	return &ConfigError{msg: msg, err: err}
}

// EncryptDecryptConfig configures the file-mode `encrypt`/`decrypt`
// subcommands.
type EncryptDecryptConfig struct {
	Keyring    *keyring.Keyring
	ChunkSize  uint64
	InputFile  string
	OutputFile string
}

// ProxyConfig configures the `proxy` subcommand's HTTP server.
type ProxyConfig struct {
	Keyring                  *keyring.Keyring
	ChunkSize                uint64
	Address                  string
	UnixSocketPath           string
	UpstreamBaseURL          string
	LocalEncryptionDirectory string
	WriteOnce                bool
	BackendConnectionTimeout time.Duration
	AWSSign                  *awssign.Credentials
	RedisURL                 string
	RedisPoolMaxSize         int
	RedisTimeoutWait         time.Duration
	RedisTimeoutCreate       time.Duration
	RedisTimeoutRecycle      time.Duration
}

// AddKeyConfig configures the `add-key` subcommand.
type AddKeyConfig struct {
	Keyring *keyring.Keyring
}

// Config is the mode-tagged result of parsing the process's arguments and
// environment. Exactly one of the *Config fields is populated, selected by
// Mode.
type Config struct {
	Mode           Mode
	EncryptDecrypt *EncryptDecryptConfig
	Proxy          *ProxyConfig
	AddKey         *AddKeyConfig
}

// Load parses args (normally os.Args[1:]) and the process environment into
// a Config. It returns a *ConfigError on any validation failure.
func Load(args []string) (*Config, error) {
	if len(args) == 0 {
		return nil, configErr("missing subcommand: expected encrypt, decrypt, proxy, or add-key", nil)
	}

	subcommand := args[0]
	flags := pflag.NewFlagSet(subcommand, pflag.ContinueOnError)

	flags.String("password-file", "", "path to a file containing the master password")
	flags.String("salt", "", "master key derivation salt")
	flags.Uint64("chunk-size", 0, "plaintext bytes per frame")
	flags.String("keyring-file", "", "path to the encrypted keyring TOML file")
	flags.String("address", "", "TCP address to bind in proxy mode")
	flags.String("upstream-url", "", "base URL of the upstream object-storage backend")
	flags.String("local-encryption-directory", "", "directory for local encrypt/fetch spill files")
	flags.Bool("write-once", false, "enforce single-use presigned URLs via the coordination store")
	flags.String("aws-access-key", "", "AWS access key id used to sign/verify SigV4 requests")
	flags.String("aws-secret-key", "", "AWS secret access key used to sign/verify SigV4 requests")
	flags.String("aws-region", "", "AWS region used for SigV4 signing")
	flags.Int("backend-connection-timeout", 0, "upstream connect timeout in milliseconds")
	flags.String("redis-url", "", "coordination-store connection URL")
	flags.Int("redis-pool-max-size", 0, "coordination-store connection pool size")
	flags.Int("redis-timeout-wait", 0, "coordination-store pool wait timeout in seconds")
	flags.Int("redis-timeout-create", 0, "coordination-store connection create timeout in seconds")
	flags.Int("redis-timeout-recycle", 0, "coordination-store connection recycle timeout in seconds")

	if err := flags.Parse(args[1:]); err != nil {
		return nil, configErr("parsing flags", err)
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := v.BindPFlags(flags); err != nil {
		return nil, configErr("binding flags", err)
	}
	v.BindEnv("password-file", "DS_PASSWORD_FILE")
	v.BindEnv("salt", "DS_SALT")
	v.BindEnv("chunk-size", "DS_CHUNK_SIZE")
	v.BindEnv("keyring-file", "DS_KEYRING")
	v.BindEnv("address", "DS_ADDRESS")
	v.BindEnv("upstream-url", "DS_UPSTREAM_URL")
	v.BindEnv("local-encryption-directory", "DS_LOCAL_ENCRYPTION_DIRECTORY")
	v.BindEnv("aws-access-key", "AWS_ACCESS_KEY_ID")
	v.BindEnv("aws-secret-key", "AWS_SECRET_ACCESS_KEY")
	v.BindEnv("aws-region", "AWS_REGION")
	v.BindEnv("redis-url", "REDIS_URL")
	v.BindEnv("redis-pool-max-size", "REDIS_POOL_MAX_SIZE")
	v.BindEnv("redis-timeout-wait", "REDIS_TIMEOUT_WAIT")
	v.BindEnv("redis-timeout-create", "REDIS_TIMEOUT_CREATE")
	v.BindEnv("redis-timeout-recycle", "REDIS_TIMEOUT_RECYCLE")

	password, err := resolvePassword(v)
	if err != nil {
		return nil, err
	}
	salt := v.GetString("salt")
	if salt == "" {
		return nil, configErr("missing salt, use DS_SALT env or --salt flag", nil)
	}

	keyringPath := v.GetString("keyring-file")
	if keyringPath == "" {
		keyringPath = DefaultKeyringFile
	}
	kr, err := keyring.Load(keyringPath, []byte(password), []byte(salt))
	if err != nil {
		return nil, configErr("loading keyring", err)
	}

	chunkSize := v.GetUint64("chunk-size")
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	positional := flags.Args()

	switch subcommand {
	case "encrypt", "decrypt":
		if len(positional) < 2 {
			return nil, configErr(fmt.Sprintf("%s requires <in> <out> arguments", subcommand), nil)
		}
		mode := ModeEncrypt
		if subcommand == "decrypt" {
			mode = ModeDecrypt
		}
		return &Config{
			Mode: mode,
			EncryptDecrypt: &EncryptDecryptConfig{
				Keyring:    kr,
				ChunkSize:  chunkSize,
				InputFile:  positional[0],
				OutputFile: positional[1],
			},
		}, nil

	case "add-key":
		return &Config{Mode: ModeAddKey, AddKey: &AddKeyConfig{Keyring: kr}}, nil

	case "proxy":
		return loadProxyConfig(v, kr, chunkSize)

	default:
		return nil, configErr(fmt.Sprintf("unknown subcommand %q: expected encrypt, decrypt, proxy, or add-key", subcommand), nil)
	}
}

func loadProxyConfig(v *viper.Viper, kr *keyring.Keyring, chunkSize uint64) (*Config, error) {
	address := v.GetString("address")
	if address == "" {
		return nil, configErr("missing address, use DS_ADDRESS env or --address flag", nil)
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, configErr(fmt.Sprintf("invalid address %q", address), err)
	}

	upstreamURL := v.GetString("upstream-url")
	if upstreamURL == "" {
		return nil, configErr("missing upstream_url, use DS_UPSTREAM_URL env or --upstream-url flag", nil)
	}
	upstreamURL = traversal.NormalizeBase(upstreamURL)

	localDir := v.GetString("local-encryption-directory")
	if localDir == "" {
		localDir = DefaultLocalEncryptionDirectory
	}
	if err := os.MkdirAll(localDir, 0o700); err != nil {
		return nil, configErr(fmt.Sprintf("creating local encryption directory %q", localDir), err)
	}

	connectTimeoutMS := v.GetInt("backend-connection-timeout")
	if connectTimeoutMS == 0 {
		connectTimeoutMS = 5000
	}

	proxyCfg := &ProxyConfig{
		Keyring:                  kr,
		ChunkSize:                chunkSize,
		Address:                  address,
		UnixSocketPath:           DefaultUnixSocketPath,
		UpstreamBaseURL:          upstreamURL,
		LocalEncryptionDirectory: localDir,
		WriteOnce:                v.GetBool("write-once"),
		BackendConnectionTimeout: time.Duration(connectTimeoutMS) * time.Millisecond,
		RedisURL:                 v.GetString("redis-url"),
		RedisPoolMaxSize:         v.GetInt("redis-pool-max-size"),
		RedisTimeoutWait:         time.Duration(v.GetInt("redis-timeout-wait")) * time.Second,
		RedisTimeoutCreate:       time.Duration(v.GetInt("redis-timeout-create")) * time.Second,
		RedisTimeoutRecycle:      time.Duration(v.GetInt("redis-timeout-recycle")) * time.Second,
	}

	accessKey := v.GetString("aws-access-key")
	secretKey := v.GetString("aws-secret-key")
	if accessKey != "" && secretKey != "" {
		proxyCfg.AWSSign = &awssign.Credentials{
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
			Region:          v.GetString("aws-region"),
		}
	}

	return &Config{Mode: ModeProxy, Proxy: proxyCfg}, nil
}

func resolvePassword(v *viper.Viper) (string, error) {
	if file := v.GetString("password-file"); file != "" {
		content, err := os.ReadFile(file)
		if err != nil {
			return "", configErr(fmt.Sprintf("reading password file %q", file), err)
		}
		return strings.TrimRight(string(content), "\r\n"), nil
	}
	if password := os.Getenv("DS_PASSWORD"); password != "" {
		return password, nil
	}
	return "", configErr("missing password, use DS_PASSWORD env or --password-file flag", nil)
}
