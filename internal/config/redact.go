// SPDX-License-Identifier: MIT

package config

import "fmt"

const masked = "***"

func mask(s string) string {
	if s == "" {
		return ""
	}
	return masked
}

// Redacted returns a copy with every secret replaced.
func (c Config) Redacted() Config {
	c.Redis.Password = mask(c.Redis.Password)
	c.Storage.SecretAccessKey = mask(c.Storage.SecretAccessKey)
	c.Storage.AccessKeyID = mask(c.Storage.AccessKeyID)
	return c
}

// plain drops the String method so formatting does not recurse.
type plain Config

// String keeps secrets out of logs when the config is printed.
func (c Config) String() string {
	return fmt.Sprintf("%+v", plain(c.Redacted()))
}
