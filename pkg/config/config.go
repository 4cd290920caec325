// pkg/config/config.go

// Package config carrega a configuração estática do fone.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"earbud-framework/pkg/device"
	"earbud-framework/pkg/fastpair"
	"earbud-framework/pkg/switchsync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// AppConfig define a estrutura do arquivo de configuração (JSON ou YAML).
// Estes parâmetros não mudam durante a execução do programa.
type AppConfig struct {
	AdapterID  int    `json:"adapter_id" yaml:"adapter_id"`
	DeviceName string `json:"device_name" yaml:"device_name"`
	Role       string `json:"role" yaml:"role"`

	// Enlace entre os fones: este fone escuta em PeerListenAddr e
	// disca para PeerURL quando entrega o papel de primário.
	PeerListenAddr string `json:"peer_listen_addr" yaml:"peer_listen_addr"`
	PeerURL        string `json:"peer_url" yaml:"peer_url"`
	DashboardAddr  string `json:"dashboard_addr" yaml:"dashboard_addr"`

	// Os dois fones precisam concordar com MaxBlobSize e AccountKeyNum.
	MaxBlobSize   int `json:"max_blob_size" yaml:"max_blob_size"`
	ScratchSize   int `json:"scratch_size" yaml:"scratch_size"`
	AccountKeyNum int `json:"account_key_num" yaml:"account_key_num"`

	FastPair        bool   `json:"fast_pair" yaml:"fast_pair"`
	FastPairModelID uint32 `json:"fast_pair_model_id" yaml:"fast_pair_model_id"`
	OTA             bool   `json:"ota" yaml:"ota"`
	VolumeEffect    bool   `json:"volume_effect" yaml:"volume_effect"`

	MongoURI      string `json:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase string `json:"mongo_database" yaml:"mongo_database"`

	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DefaultPath é o arquivo lido quando nenhum caminho é passado na linha de comando.
const DefaultPath = "configs/config.json"

// PeerPath é o caminho HTTP do endpoint do enlace entre os fones.
const PeerPath = "/switch"

// Load lê um arquivo de configuração do caminho fornecido e retorna uma struct AppConfig.
// Arquivos .yaml/.yml são lidos como YAML; o resto como JSON.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &AppConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate preenche os valores padrão e rejeita combinações inválidas.
func (c *AppConfig) Validate() error {
	if c.DeviceName == "" {
		c.DeviceName = "Earbud"
	}
	if len(c.DeviceName) > device.MaxNameLen {
		return errors.Errorf("config: device_name of %d bytes, max %d", len(c.DeviceName), device.MaxNameLen)
	}
	if c.Role == "" {
		c.Role = "secondary"
	}
	if _, err := switchsync.ParseRole(c.Role); err != nil {
		return errors.Wrap(err, "config: role")
	}
	if c.PeerListenAddr == "" {
		c.PeerListenAddr = ":9090"
	}
	if c.DashboardAddr == "" {
		c.DashboardAddr = ":8080"
	}
	if c.MaxBlobSize == 0 {
		c.MaxBlobSize = switchsync.DefaultMaxBlobSize
	}
	if c.ScratchSize == 0 {
		c.ScratchSize = c.MaxBlobSize
	}
	if c.AccountKeyNum == 0 {
		c.AccountKeyNum = fastpair.DefaultAccountKeyNum
	}
	if c.MaxBlobSize < 0 || c.MaxBlobSize > 0xffff {
		return errors.Errorf("config: max_blob_size %d out of range", c.MaxBlobSize)
	}
	if c.ScratchSize < 0 {
		return errors.Errorf("config: scratch_size %d out of range", c.ScratchSize)
	}
	if c.FastPair && fastpair.Size(c.AccountKeyNum) > c.MaxBlobSize {
		return errors.Errorf("config: %d account keys do not fit in a %d byte blob", c.AccountKeyNum, c.MaxBlobSize)
	}
	if c.FastPairModelID > 0xffffff {
		return errors.Errorf("config: fast_pair_model_id 0x%x is wider than 24 bits", c.FastPairModelID)
	}
	if c.MongoURI != "" && c.MongoDatabase == "" {
		c.MongoDatabase = "earbud"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "config: log_level")
	}
	return nil
}

// InitialRole devolve o papel configurado.
func (c *AppConfig) InitialRole() switchsync.Role {
	r, _ := switchsync.ParseRole(c.Role)
	return r
}
