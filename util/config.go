package util

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const Name = "wingbeat"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host        string
		HttpPort    int    `yaml:"httpPort"`
		Domain      string `yaml:"domain"`
		MediaUrl    string `yaml:"mediaUrl"`
		AdminUser   string `yaml:"adminUser"`
		DeletedUser string `yaml:"deletedUser"`
	}
}

// BaseUrl is the public https root every federated id is minted under.
func (c *AppConfig) BaseUrl() string {
	return fmt.Sprintf("https://%s", c.Conf.Domain)
}

// ActorUrl returns the canonical actor document URL for a local handle.
func (c *AppConfig) ActorUrl(handle string) string {
	return fmt.Sprintf("%s/fediverse/blog/%s", c.BaseUrl(), strings.ToLower(handle))
}

// PostUrl returns the canonical object URL for a local post id.
func (c *AppConfig) PostUrl(id uuid.UUID) string {
	return fmt.Sprintf("%s/fediverse/post/%s", c.BaseUrl(), id.String())
}

// PostUrlPrefix is the prefix shared by every local post URL; the thread
// resolver strips it to recognize ids that point back at this instance.
func (c *AppConfig) PostUrlPrefix() string {
	return fmt.Sprintf("%s/fediverse/post/", c.BaseUrl())
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	buf, err = os.ReadFile(configPath)
	if err != nil {
		log.Infof("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Warnf("could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Infof("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("WINGBEAT_HOST")
	envHttpPort := os.Getenv("WINGBEAT_HTTPPORT")
	envDomain := os.Getenv("WINGBEAT_DOMAIN")
	envMediaUrl := os.Getenv("WINGBEAT_MEDIAURL")
	envAdminUser := os.Getenv("WINGBEAT_ADMINUSER")
	envDeletedUser := os.Getenv("WINGBEAT_DELETEDUSER")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envDomain != "" {
		c.Conf.Domain = envDomain
	}

	if envMediaUrl != "" {
		c.Conf.MediaUrl = envMediaUrl
	}

	if envAdminUser != "" {
		c.Conf.AdminUser = envAdminUser
	}

	if envDeletedUser != "" {
		c.Conf.DeletedUser = envDeletedUser
	}

	return c, nil
}
