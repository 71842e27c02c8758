// Package config loads the typed Config record that drives every KohakuHub
// component, from environment variables and an optional config file. The
// env-var loader mirrors the EnvConfig helper pattern used across the rest
// of this codebase's origin, widened with Viper for file + env layering.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// S3 groups Storage Gateway connection settings.
type S3 struct {
	Endpoint         string
	PublicEndpoint   string
	Bucket           string
	AccessKey        string
	SecretKey        string
	Region           string
	ForcePathStyle   bool
	SignatureVersion string
}

// LakeFS groups Version Store connection settings.
type LakeFS struct {
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Quota groups the default quota assigned to newly created namespaces.
// A nil value means unlimited.
type Quota struct {
	UserPrivateBytes *int64
	UserPublicBytes  *int64
	OrgPrivateBytes  *int64
	OrgPublicBytes   *int64
}

// Config is the single typed configuration record recognized by KohakuHub.
type Config struct {
	BaseURL string
	APIBase string

	InlineThresholdBytes  int64
	GitLFSThresholdBytes  int64
	LFSHistoryKeep        int
	CommitFanout          int
	StagingUploadTTLSecs  int64
	PresignUploadExpirySeconds   int64
	PresignDownloadExpirySeconds int64

	S3     S3
	LakeFS LakeFS

	DBURL string

	SessionSecret     string
	AdminSecretToken  string

	DefaultQuota Quota

	GCRedisURL      string
	GiteaMirrorURL  string

	OIDCIssuerURL          string
	OIDCJWKSCacheTTLSecs   int64

	LogFormat         string
	DebugLogPayloads  bool
}

// Load reads configuration from environment variables (optionally under an
// explicit config file passed via --config), applying defaults for every
// key that has one.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KOHAKU")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	setDefaults(v)

	cfg := &Config{
		BaseURL:                      v.GetString("base_url"),
		APIBase:                      v.GetString("api_base"),
		InlineThresholdBytes:         v.GetInt64("inline_threshold_bytes"),
		GitLFSThresholdBytes:         v.GetInt64("git_lfs_threshold_bytes"),
		LFSHistoryKeep:               v.GetInt("lfs_history_keep"),
		CommitFanout:                 v.GetInt("commit_fanout"),
		StagingUploadTTLSecs:         v.GetInt64("staging_upload_ttl_seconds"),
		PresignUploadExpirySeconds:   v.GetInt64("presign_upload_expiry_seconds"),
		PresignDownloadExpirySeconds: v.GetInt64("presign_download_expiry_seconds"),
		S3: S3{
			Endpoint:         v.GetString("s3.endpoint"),
			PublicEndpoint:   v.GetString("s3.public_endpoint"),
			Bucket:           v.GetString("s3.bucket"),
			AccessKey:        v.GetString("s3.access_key"),
			SecretKey:        v.GetString("s3.secret_key"),
			Region:           v.GetString("s3.region"),
			ForcePathStyle:   v.GetBool("s3.force_path_style"),
			SignatureVersion: v.GetString("s3.signature_version"),
		},
		LakeFS: LakeFS{
			Endpoint:  v.GetString("lakefs.endpoint"),
			AccessKey: v.GetString("lakefs.access_key"),
			SecretKey: v.GetString("lakefs.secret_key"),
		},
		DBURL:                v.GetString("db.url"),
		SessionSecret:        v.GetString("session_secret"),
		AdminSecretToken:     v.GetString("admin_secret_token"),
		GCRedisURL:           v.GetString("gc_redis_url"),
		GiteaMirrorURL:       v.GetString("gitea_mirror_url"),
		OIDCIssuerURL:        v.GetString("oidc_issuer_url"),
		OIDCJWKSCacheTTLSecs: v.GetInt64("oidc_jwks_cache_ttl_seconds"),
		LogFormat:            v.GetString("log_format"),
		DebugLogPayloads:     v.GetBool("debug_log_payloads"),
	}

	cfg.DefaultQuota = loadQuota(v)

	if cfg.S3.Bucket == "" {
		return nil, fmt.Errorf("config: s3.bucket is required")
	}
	if cfg.LakeFS.Endpoint == "" {
		return nil, fmt.Errorf("config: lakefs.endpoint is required")
	}
	if cfg.DBURL == "" {
		return nil, fmt.Errorf("config: db.url is required")
	}

	return cfg, nil
}

func loadQuota(v *viper.Viper) Quota {
	var q Quota
	if v.IsSet("default_user_private_quota_bytes") {
		n := v.GetInt64("default_user_private_quota_bytes")
		q.UserPrivateBytes = &n
	}
	if v.IsSet("default_user_public_quota_bytes") {
		n := v.GetInt64("default_user_public_quota_bytes")
		q.UserPublicBytes = &n
	}
	if v.IsSet("default_org_private_quota_bytes") {
		n := v.GetInt64("default_org_private_quota_bytes")
		q.OrgPrivateBytes = &n
	}
	if v.IsSet("default_org_public_quota_bytes") {
		n := v.GetInt64("default_org_public_quota_bytes")
		q.OrgPublicBytes = &n
	}
	return q
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_base", "/api")
	v.SetDefault("inline_threshold_bytes", 10*1024*1024)
	v.SetDefault("git_lfs_threshold_bytes", 1024*1024)
	v.SetDefault("lfs_history_keep", 5)
	v.SetDefault("commit_fanout", 8)
	v.SetDefault("staging_upload_ttl_seconds", 86400)
	v.SetDefault("presign_upload_expiry_seconds", 15*60)
	v.SetDefault("presign_download_expiry_seconds", 60*60)
	v.SetDefault("s3.force_path_style", true)
	v.SetDefault("s3.signature_version", "v4")
	v.SetDefault("oidc_jwks_cache_ttl_seconds", 3600)
	v.SetDefault("log_format", "text")
}
