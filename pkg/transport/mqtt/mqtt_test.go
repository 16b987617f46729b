package mqtt

import (
	"testing"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty broker", func(c *Config) { c.BrokerURL = "" }},
		{"empty namespace", func(c *Config) { c.Namespace = "" }},
		{"wildcard namespace", func(c *Config) { c.Namespace = "lab/#" }},
		{"plus namespace", func(c *Config) { c.Namespace = "lab+1" }},
		{"slash namespace", func(c *Config) { c.Namespace = "lab/one" }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate accepted bad config", tc.name)
		}
	}
}

func TestTopicLayout(t *testing.T) {
	tr := &Transport{cfg: Config{Namespace: "lab"}}

	if got := tr.adTopic("ep-1"); got != "lab/ads/ep-1" {
		t.Errorf("adTopic = %q", got)
	}
	if got := tr.dataTopic("ep-1"); got != "lab/data/ep-1" {
		t.Errorf("dataTopic = %q", got)
	}
}
