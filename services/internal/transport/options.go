package transport

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultQoS              = 1
	defaultConnectTimeout   = 30 * time.Second
	defaultKeepAlive        = 30 * time.Second
	defaultOperationTimeout = 10 * time.Second
)

// Options configures one broker connection.
type Options struct {
	BrokerURL        string
	ClientID         string
	Username         string
	Password         string
	QoS              byte
	TLS              TLSFiles
	ConnectTimeout   time.Duration
	KeepAlive        time.Duration
	OperationTimeout time.Duration
}

// OptionsFromEnv reads <prefix>_BROKER_URL, <prefix>_CLIENT_ID,
// <prefix>_USERNAME, <prefix>_PASSWORD, <prefix>_QOS, <prefix>_CA_FILE,
// <prefix>_CERT_FILE, <prefix>_KEY_FILE, <prefix>_CHAIN_FILE,
// <prefix>_CONNECT_TIMEOUT, <prefix>_KEEPALIVE and <prefix>_TIMEOUT. A missing
// client id becomes clientPrefix followed by a random suffix.
func OptionsFromEnv(prefix, clientPrefix string) (Options, error) {
	get := func(name string) string {
		return strings.TrimSpace(os.Getenv(prefix + "_" + name))
	}

	opts := Options{
		BrokerURL:        get("BROKER_URL"),
		ClientID:         get("CLIENT_ID"),
		Username:         get("USERNAME"),
		Password:         get("PASSWORD"),
		QoS:              defaultQoS,
		ConnectTimeout:   defaultConnectTimeout,
		KeepAlive:        defaultKeepAlive,
		OperationTimeout: defaultOperationTimeout,
		TLS: TLSFiles{
			CAFile:    get("CA_FILE"),
			CertFile:  get("CERT_FILE"),
			KeyFile:   get("KEY_FILE"),
			ChainFile: get("CHAIN_FILE"),
		},
	}

	if opts.ClientID == "" {
		opts.ClientID = clientPrefix + "-" + uuid.NewString()[:8]
	}

	if v := get("QOS"); v != "" {
		qos, err := strconv.Atoi(v)
		if err != nil || qos < 0 || qos > 2 {
			return opts, fmt.Errorf("invalid %s_QOS: %s", prefix, v)
		}
		opts.QoS = byte(qos)
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"CONNECT_TIMEOUT", &opts.ConnectTimeout},
		{"KEEPALIVE", &opts.KeepAlive},
		{"TIMEOUT", &opts.OperationTimeout},
	}
	for _, d := range durations {
		v := get(d.name)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			return opts, fmt.Errorf("invalid %s_%s: %s", prefix, d.name, v)
		}
		*d.dst = parsed
	}

	return opts, nil
}
