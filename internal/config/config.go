// Package config loads the triage engine's configuration from a YAML base
// file with environment-variable overrides, following the same two-phase
// Load/LoadFromEnv pattern used across the rest of this codebase.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the triage engine and the daily
// report.
type Config struct {
	Mail      MailConfig      `yaml:"mail"`
	Graph     GraphConfig     `yaml:"graph"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Blob      BlobConfig      `yaml:"blob"`
	Routing   RoutingConfig   `yaml:"routing"`
	LoopGuard LoopGuardConfig `yaml:"loop_guard"`
	Batch     BatchConfig     `yaml:"batch"`
	Report    ReportConfig    `yaml:"report"`
}

// MailConfig identifies the consolidation bin mailbox(es) the engine polls.
type MailConfig struct {
	Accounts        []string `yaml:"accounts"`
	DefaultAccount  string   `yaml:"default_account"`
	CCExclusionList []string `yaml:"cc_exclusion_list"`
	EnvType         string   `yaml:"env_type"` // DEV, SIT, UAT, PREPROD, PROD
}

// GraphConfig holds the Microsoft-Graph-style OAuth2 client-credentials
// identity used by the mail gateway.
type GraphConfig struct {
	ClientID     string `yaml:"client_id"`
	TenantID     string `yaml:"tenant_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`
}

// TokenURL returns the Azure AD v2 token endpoint for this tenant.
func (c GraphConfig) TokenURL() string {
	return "https://login.microsoftonline.com/" + c.TenantID + "/oauth2/v2.0/token"
}

// Scopes returns the OAuth2 scopes requested for the client-credentials grant.
func (c GraphConfig) Scopes() []string {
	return []string{"https://graph.microsoft.com/.default"}
}

// DatabaseConfig holds the relational store connection.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// LLMConfig holds the primary/backup Azure OpenAI endpoints and the
// optional Bedrock tertiary tier.
type LLMConfig struct {
	PrimaryKey        string `yaml:"primary_key"`
	PrimaryEndpoint   string `yaml:"primary_endpoint"`
	PrimaryDeployment string `yaml:"primary_deployment"`
	BackupKey         string `yaml:"backup_key"`
	BackupEndpoint    string `yaml:"backup_endpoint"`
	BackupDeployment  string `yaml:"backup_deployment"`
	APIVersion        string `yaml:"api_version"`
	CheapDeployment   string `yaml:"cheap_deployment"`

	// BedrockModelID is empty by default; setting it activates the
	// optional tertiary classifier tier (see SPEC_FULL.md DOMAIN STACK).
	BedrockModelID string `yaml:"bedrock_model_id"`
	AWSRegion      string `yaml:"aws_region"`
}

// BlobConfig holds Azure Blob Storage connection details for the template
// store.
type BlobConfig struct {
	ConnectionString string `yaml:"connection_string"`
	ContainerName    string `yaml:"container_name"`
	PublicURL        string `yaml:"public_url"`
}

// RoutingConfig holds the department mailbox addresses the router maps
// categories onto.
type RoutingConfig struct {
	PolicyServices string `yaml:"policy_services"`
	Tracking       string `yaml:"tracking"`
	Claims         string `yaml:"claims"`
	OnlineSupport  string `yaml:"online_support"`
	InsuranceAdmin string `yaml:"insurance_admin"`
	DigitalComms   string `yaml:"digital_comms"`
	ConnexTest     string `yaml:"connex_test"` // recognised, currently unused; see SPEC_FULL.md
}

// LoopGuardConfig holds the corporate-domain literal used by rule 5 of
// the loop guard (see spec.md §4.5).
type LoopGuardConfig struct {
	CorporateDomain string `yaml:"corporate_domain"`
}

// BatchConfig holds the batch loop's pacing and group-size parameters.
type BatchConfig struct {
	FetchIntervalSeconds int    `yaml:"fetch_interval_seconds"`
	GroupSize            int    `yaml:"group_size"`
	RetrySweepEveryLoops int    `yaml:"retry_sweep_every_loops"`
	LeaderLockKey        string `yaml:"leader_lock_key"`

	// DynamoTableName is empty by default; setting it activates the
	// optional durable read-retry-set backend.
	DynamoTableName string `yaml:"dynamo_table_name"`
}

// FetchInterval returns the configured polling interval as a duration.
func (c BatchConfig) FetchInterval() time.Duration {
	if c.FetchIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.FetchIntervalSeconds) * time.Second
}

// ReportConfig holds the daily report's test-exclusion and sender identity.
type ReportConfig struct {
	TestSubjectPrefix string   `yaml:"test_subject_prefix"`
	Recipients        []string `yaml:"recipients"`
}

// Load reads and parses the configuration file, applying defaults for any
// zero-valued field.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Batch.FetchIntervalSeconds == 0 {
		cfg.Batch.FetchIntervalSeconds = 30
	}
	if cfg.Batch.GroupSize == 0 {
		cfg.Batch.GroupSize = 3
	}
	if cfg.Batch.RetrySweepEveryLoops == 0 {
		cfg.Batch.RetrySweepEveryLoops = 5
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}
	if cfg.LLM.APIVersion == "" {
		cfg.LLM.APIVersion = "2024-08-01-preview"
	}
	if cfg.LLM.PrimaryDeployment == "" {
		cfg.LLM.PrimaryDeployment = "gpt-4o"
	}
	if cfg.LLM.CheapDeployment == "" {
		cfg.LLM.CheapDeployment = "gpt-4o-mini"
	}
	if cfg.Report.TestSubjectPrefix == "" {
		cfg.Report.TestSubjectPrefix = "[TEST]"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration from a YAML base file, then overrides
// individual fields from environment variables (loading a local .env file
// first if present, so secrets can live there in development).
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CLIENT_ID"); v != "" {
		cfg.Graph.ClientID = v
	}
	if v := os.Getenv("TENANT_ID"); v != "" {
		cfg.Graph.TenantID = v
	}
	if v := os.Getenv("CLIENT_SECRET"); v != "" {
		cfg.Graph.ClientSecret = v
	}
	if v := os.Getenv("EMAIL_ACCOUNT"); v != "" {
		cfg.Mail.Accounts = []string{v}
	}
	if v := os.Getenv("EMAIL_ACCOUNTS"); v != "" {
		cfg.Mail.Accounts = splitCommaList(v)
	}
	if v := os.Getenv("DEFAULT_EMAIL_ACCOUNT"); v != "" {
		cfg.Mail.DefaultAccount = v
	}
	if v := os.Getenv("CC_EXCLUSION_LIST"); v != "" {
		cfg.Mail.CCExclusionList = splitCommaList(v)
	}
	if v := os.Getenv("ENV_TYPE"); v != "" {
		cfg.Mail.EnvType = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}

	if v := os.Getenv("AZURE_OPENAI_KEY"); v != "" {
		cfg.LLM.PrimaryKey = v
	}
	if v := os.Getenv("AZURE_OPENAI_ENDPOINT"); v != "" {
		cfg.LLM.PrimaryEndpoint = v
	}
	if v := os.Getenv("AZURE_OPENAI_BACKUP_KEY"); v != "" {
		cfg.LLM.BackupKey = v
	}
	if v := os.Getenv("AZURE_OPENAI_BACKUP_ENDPOINT"); v != "" {
		cfg.LLM.BackupEndpoint = v
	}
	if v := os.Getenv("BEDROCK_MODEL_ID"); v != "" {
		cfg.LLM.BedrockModelID = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.LLM.AWSRegion = v
	}

	if v := os.Getenv("AZURE_STORAGE_CONNECTION_STRING"); v != "" {
		cfg.Blob.ConnectionString = v
	}
	if v := os.Getenv("BLOB_CONTAINER_NAME"); v != "" {
		cfg.Blob.ContainerName = v
	}
	if v := os.Getenv("AZURE_STORAGE_PUBLIC_URL"); v != "" {
		cfg.Blob.PublicURL = v
	}

	if v := os.Getenv("POLICY_SERVICES"); v != "" {
		cfg.Routing.PolicyServices = v
	}
	if v := os.Getenv("TRACKING_MAILS"); v != "" {
		cfg.Routing.Tracking = v
	}
	if v := os.Getenv("CLAIMS_MAILS"); v != "" {
		cfg.Routing.Claims = v
	}
	if v := os.Getenv("ONLINESUPPORT_MAILS"); v != "" {
		cfg.Routing.OnlineSupport = v
	}
	if v := os.Getenv("INSURANCEADMIN_MAILS"); v != "" {
		cfg.Routing.InsuranceAdmin = v
	}
	if v := os.Getenv("DIGITALCOMMS_MAILS"); v != "" {
		cfg.Routing.DigitalComms = v
	}
	if v := os.Getenv("CONNEX_TEST"); v != "" {
		cfg.Routing.ConnexTest = v
	}

	if v := os.Getenv("CORPORATE_DOMAIN"); v != "" {
		cfg.LoopGuard.CorporateDomain = v
	}

	if v := os.Getenv("EMAIL_FETCH_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.FetchIntervalSeconds = n
		}
	}
	if v := os.Getenv("BATCH_GROUP_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.GroupSize = n
		}
	}
	if v := os.Getenv("DYNAMO_RETRY_TABLE"); v != "" {
		cfg.Batch.DynamoTableName = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Batch.LeaderLockKey = "triage-engine:" + v
	}

	return cfg, nil
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FolderMapping returns the mailbox-local-part → blob-folder mapping for
// the configured environment, mirroring the five ENV_TYPE-keyed tables in
// the original source (spec.md §6, SPEC_FULL.md Supplemented Features).
func (c MailConfig) FolderMapping() map[string]string {
	suffix, ok := envSuffixes[c.EnvType]
	if !ok {
		suffix = ""
	}
	base := map[string]string{
		"onlinesupport": "onlinesupport",
		"policyservice": "policyservice",
		"tracking":      "tracking",
		"digital.comms": "digitalcomms",
		"claims":        "claims",
	}
	if suffix == "" {
		return base
	}
	mapped := make(map[string]string, len(base))
	for k, v := range base {
		mapped[k+suffix] = v
	}
	return mapped
}

var envSuffixes = map[string]string{
	"DEV":     "-aitest",
	"SIT":     "-aisit",
	"UAT":     "-aiuat",
	"PREPROD": "-aipreprod",
	"PROD":    "",
}
