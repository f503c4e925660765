package s3driver

import "errors"

type Config struct {
	BucketName    string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Endpoint      string `mapstructure:"endpoint"`
	UseAccelerate bool   `mapstructure:"accelerate"`
	// Prefix is prepended to every key; the special root maps to it.
	Prefix string `mapstructure:"prefix"`
}

func (c *Config) Validate() error {
	if c.BucketName == "" {
		return errors.New("s3: bucket name missing")
	}
	if c.Region == "" && c.Endpoint == "" {
		return errors.New("s3: region or endpoint required")
	}
	return nil
}

// WithMinioConfig is a path-style configuration for S3 compatible servers.
func WithMinioConfig(url, bucketName, accessKey, secretKey string) *Config {
	return &Config{
		BucketName: bucketName,
		Endpoint:   url,
		Region:     "us-east-1",
		AccessKey:  accessKey,
		SecretKey:  secretKey,
	}
}
