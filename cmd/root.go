// file: cmd/root.go
// version: 1.6.0
// guid: 6a7b8c9d-0e1f-2a3b-4c5d-6e7f8a9b0c1d

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sahelmfi/sfd-gateway/internal/audit"
	"github.com/sahelmfi/sfd-gateway/internal/cache"
	"github.com/sahelmfi/sfd-gateway/internal/config"
	"github.com/sahelmfi/sfd-gateway/internal/gateway"
	"github.com/sahelmfi/sfd-gateway/internal/registry"
	"github.com/sahelmfi/sfd-gateway/internal/server"
	"github.com/sahelmfi/sfd-gateway/internal/token"
)

var cfgFile string
var gatewayURL string
var auditDBPath string
var auditDBType string
var registryPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sfd-gateway",
	Short: "Client gateway for MEREF-federated SFD institutions",
	Long: `sfd-gateway brokers calls from SFD back offices to the MEREF
platform API: it resolves and refreshes per-tenant context tokens, caches
GET responses per SFD, classifies upstream failures, and records every
call in a local audit trail.`,
}

// localIssuer adapts the signing-secret issuer to the token manager.
type localIssuer struct {
	signer *token.LocalIssuer
}

func (l localIssuer) Issue(_ context.Context, sfdID, userID string) (string, int, error) {
	return l.signer.Sign(sfdID, userID)
}

// buildIssuer prefers the remote token endpoint and falls back to local
// signing when one is configured instead.
func buildIssuer() (token.Issuer, error) {
	if config.AppConfig.TokenEndpoint != "" {
		return token.NewHTTPIssuer(config.AppConfig.TokenEndpoint), nil
	}
	if config.AppConfig.SigningSecret != "" {
		return localIssuer{token.NewLocalIssuer(
			[]byte(config.AppConfig.SigningSecret),
			config.AppConfig.TokenTTL,
		)}, nil
	}
	return nil, fmt.Errorf("no token source configured: set token_endpoint or signing_secret")
}

func buildGateway(sink audit.Sink) (*gateway.Client, error) {
	if config.AppConfig.GatewayBaseURL == "" {
		return nil, fmt.Errorf("gateway base URL not specified")
	}
	issuer, err := buildIssuer()
	if err != nil {
		return nil, err
	}
	return gateway.NewClient(gateway.Options{
		BaseURL: config.AppConfig.GatewayBaseURL,
		Cache:   cache.New(config.AppConfig.CacheTTL),
		Tokens:  token.NewManager(issuer, config.AppConfig.TokenSkew),
		Sink:    sink,
		Skew:    config.AppConfig.TokenSkew,
	})
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local gateway daemon",
	Long:  `Start the HTTP daemon that proxies tenant calls to the platform API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := audit.InitializeStore(config.AppConfig.AuditDBType, config.AppConfig.AuditDBPath); err != nil {
			return fmt.Errorf("failed to initialize audit store: %w", err)
		}
		defer audit.CloseStore()

		fmt.Printf("Using audit store: %s (%s)\n", config.AppConfig.AuditDBPath, config.AppConfig.AuditDBType)

		sink := audit.MultiSink{
			audit.LogSink{},
			&audit.StoreSink{Store: audit.GlobalStore},
		}

		gw, err := buildGateway(sink)
		if err != nil {
			return err
		}

		var reg *registry.Registry
		if config.AppConfig.RegistryPath != "" {
			reg, err = registry.Load(config.AppConfig.RegistryPath)
			if err != nil {
				return fmt.Errorf("failed to load SFD directory: %w", err)
			}
			if err := reg.Watch(); err != nil {
				fmt.Printf("Warning: SFD directory watch unavailable: %v\n", err)
			}
			defer reg.Close()
			fmt.Printf("SFD directory loaded: %s (%d entries)\n", config.AppConfig.RegistryPath, len(reg.List()))
		}

		var issuer *token.LocalIssuer
		if config.AppConfig.SigningSecret != "" {
			issuer = token.NewLocalIssuer([]byte(config.AppConfig.SigningSecret), config.AppConfig.TokenTTL)
		}

		srv := server.NewServer(server.Deps{
			Gateway:            gw,
			Registry:           reg,
			Issuer:             issuer,
			RateLimitPerSecond: config.AppConfig.RateLimitPerSecond,
			RateLimitBurst:     config.AppConfig.RateLimitBurst,
		})

		cfg := server.GetDefaultServerConfig()
		cfg.SweepInterval = config.AppConfig.SweepInterval

		// Override with command line flags if provided
		if port := cmd.Flag("port").Value.String(); port != "" {
			cfg.Port = port
		}
		if host := cmd.Flag("host").Value.String(); host != "" {
			cfg.Host = host
		}
		if rt := cmd.Flag("read-timeout").Value.String(); rt != "" {
			if d, err := time.ParseDuration(rt); err == nil {
				cfg.ReadTimeout = d
			}
		}
		if wt := cmd.Flag("write-timeout").Value.String(); wt != "" {
			if d, err := time.ParseDuration(wt); err == nil {
				cfg.WriteTimeout = d
			}
		}
		if it := cmd.Flag("idle-timeout").Value.String(); it != "" {
			if d, err := time.ParseDuration(it); err == nil {
				cfg.IdleTimeout = d
			}
		}

		return srv.Start(cfg)
	},
}

// callCmd issues a single tenant-scoped call from the command line.
var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Issue a one-off call through the gateway",
	Long: `Issue a single call to the platform API on behalf of an SFD.
The context token is minted from the configured token source unless
--token supplies one directly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sfdID, _ := cmd.Flags().GetString("sfd")
		userID, _ := cmd.Flags().GetString("user")
		tok, _ := cmd.Flags().GetString("token")
		method, _ := cmd.Flags().GetString("method")
		endpoint, _ := cmd.Flags().GetString("endpoint")
		data, _ := cmd.Flags().GetString("data")
		role, _ := cmd.Flags().GetString("role")
		rawParams, _ := cmd.Flags().GetStringArray("param")

		gw, err := buildGateway(audit.LogSink{})
		if err != nil {
			return err
		}

		ctx := context.Background()
		if tok == "" {
			tok, err = gw.Tokens().GenerateTokenForSfd(ctx, sfdID, userID)
			if err != nil {
				return fmt.Errorf("failed to obtain context token: %w", err)
			}
		}

		params := make(map[string]string)
		for _, p := range rawParams {
			k, v, ok := strings.Cut(p, "=")
			if !ok {
				return fmt.Errorf("invalid --param %q, expected key=value", p)
			}
			params[k] = v
		}

		var body any
		if data != "" {
			body = json.RawMessage(data)
		}

		resp, err := gw.Do(ctx, &gateway.Request{
			SfdID:    sfdID,
			Token:    tok,
			Method:   method,
			Endpoint: endpoint,
			Body:     body,
			Params:   params,
			Role:     role,
		})
		if err != nil {
			return err
		}

		if resp.FromCache {
			fmt.Fprintln(os.Stderr, "(served from cache)")
		}
		fmt.Println(string(resp.Body))
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect and mint context tokens",
}

var tokenInspectCmd = &cobra.Command{
	Use:   "inspect <token>",
	Short: "Decode a context token's claims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		claims, err := token.ParseClaims(args[0])
		if err != nil {
			return fmt.Errorf("failed to decode token: %w", err)
		}
		out, err := json.MarshalIndent(claims, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		if claims.ExpiresAt != nil {
			remaining := time.Until(claims.ExpiresAt.Time).Round(time.Second)
			if remaining > 0 {
				fmt.Printf("Expires in %s\n", remaining)
			} else {
				fmt.Printf("Expired %s ago\n", -remaining)
			}
		}
		return nil
	},
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Mint a context token for an SFD session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sfdID, _ := cmd.Flags().GetString("sfd")
		userID, _ := cmd.Flags().GetString("user")

		issuer, err := buildIssuer()
		if err != nil {
			return err
		}
		signed, expiresIn, err := issuer.Issue(context.Background(), sfdID, userID)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Println(signed)
		fmt.Fprintf(os.Stderr, "Valid for %ds\n", expiresIn)
		return nil
	},
}

// tokenStatusCmd asks a running daemon about its cached token for an SFD.
var tokenStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running daemon's token state for an SFD",
	RunE: func(cmd *cobra.Command, args []string) error {
		sfdID, _ := cmd.Flags().GetString("sfd")
		daemon, _ := cmd.Flags().GetString("daemon")

		client := cleanhttp.DefaultClient()
		client.Timeout = 5 * time.Second
		resp, err := client.Get(fmt.Sprintf("%s/api/v1/tokens/%s", strings.TrimRight(daemon, "/"), sfdID))
		if err != nil {
			return fmt.Errorf("daemon unreachable: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != 200 {
			return fmt.Errorf("daemon returned status %d", resp.StatusCode)
		}
		var out map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode daemon response: %w", err)
		}
		pretty, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(pretty))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sfd-gateway.yaml)")
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "base URL of the platform API gateway")
	rootCmd.PersistentFlags().StringVar(&auditDBPath, "audit-db", "audit.pebble", "path to audit store (default: audit.pebble for PebbleDB)")
	rootCmd.PersistentFlags().StringVar(&auditDBType, "audit-db-type", "pebble", "audit store type: pebble (default) or sqlite")
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "", "path to the SFD directory file (YAML)")

	viper.BindPFlag("gateway_base_url", rootCmd.PersistentFlags().Lookup("gateway"))
	viper.BindPFlag("audit_db_path", rootCmd.PersistentFlags().Lookup("audit-db"))
	viper.BindPFlag("audit_db_type", rootCmd.PersistentFlags().Lookup("audit-db-type"))
	viper.BindPFlag("registry_path", rootCmd.PersistentFlags().Lookup("registry"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenInspectCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenStatusCmd)

	// Add serve command specific flags
	serveCmd.Flags().String("port", "8090", "port to run the daemon on")
	serveCmd.Flags().String("host", "localhost", "host to bind the daemon to")
	serveCmd.Flags().String("read-timeout", "15s", "read timeout (e.g. 15s, 1m)")
	serveCmd.Flags().String("write-timeout", "15s", "write timeout (e.g. 15s, 1m)")
	serveCmd.Flags().String("idle-timeout", "60s", "idle timeout (e.g. 60s, 2m)")

	callCmd.Flags().String("sfd", "", "SFD identifier to act for")
	callCmd.Flags().String("user", "", "session user identifier")
	callCmd.Flags().String("token", "", "context token (minted automatically when omitted)")
	callCmd.Flags().String("method", "GET", "HTTP method")
	callCmd.Flags().String("endpoint", "", "API endpoint, e.g. /clients")
	callCmd.Flags().String("data", "", "JSON request body")
	callCmd.Flags().String("role", "", "user role forwarded to the platform")
	callCmd.Flags().StringArray("param", nil, "query parameter as key=value (repeatable)")
	callCmd.MarkFlagRequired("sfd")
	callCmd.MarkFlagRequired("endpoint")

	tokenIssueCmd.Flags().String("sfd", "", "SFD identifier")
	tokenIssueCmd.Flags().String("user", "", "session user identifier")
	tokenIssueCmd.MarkFlagRequired("sfd")
	tokenIssueCmd.MarkFlagRequired("user")

	tokenStatusCmd.Flags().String("sfd", "", "SFD identifier")
	tokenStatusCmd.Flags().String("daemon", "http://localhost:8090", "base URL of the running daemon")
	tokenStatusCmd.MarkFlagRequired("sfd")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sfd-gateway")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	// Ensure audit store directory exists
	if auditDBPath != "" {
		dbDir := filepath.Dir(auditDBPath)
		if dbDir != "." {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				fmt.Printf("Error creating audit store directory: %v\n", err)
			}
		}
	}

	config.InitConfig()
}
