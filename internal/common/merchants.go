package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BesrourMS/solana-usdc-api/internal/models"
	"github.com/BesrourMS/solana-usdc-api/internal/store"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

type MerchantConfig struct {
	Id            string `yaml:"id"`
	Name          string `yaml:"name"`
	ApiKey        string `yaml:"api_key"`
	WebhookUrl    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`
	WalletAddress string `yaml:"wallet_address"`
}

type MerchantsConfig struct {
	Merchants []MerchantConfig `yaml:"merchants"`
}

func LoadMerchantConfig(merchantsFile string) ([]MerchantConfig, error) {
	var merchantsPath string
	if filepath.IsAbs(merchantsFile) {
		merchantsPath = merchantsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		merchantsPath = filepath.Join(wd, merchantsFile)
	}

	data, err := os.ReadFile(merchantsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", merchantsFile, err)
	}

	var config MerchantsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", merchantsFile, err)
	}

	for i, merchant := range config.Merchants {
		if merchant.Id == "" {
			return nil, fmt.Errorf("merchant at index %d missing id", i)
		}
		if merchant.ApiKey == "" {
			return nil, fmt.Errorf("merchant at index %d missing api_key", i)
		}
		if merchant.WebhookSecret == "" {
			return nil, fmt.Errorf("merchant at index %d missing webhook_secret", i)
		}
	}

	return config.Merchants, nil
}

// SeedMerchants inserts merchants from a YAML file, skipping ones that
// already exist.
func SeedMerchants(ctx context.Context, intentStore store.IntentStore, merchantsFile string) error {
	merchants, err := LoadMerchantConfig(merchantsFile)
	if err != nil {
		return err
	}

	for _, m := range merchants {
		_, err := intentStore.GetMerchantById(ctx, m.Id)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrMerchantNotFound) {
			return fmt.Errorf("failed to check merchant %s: %w", m.Id, err)
		}

		_, err = intentStore.CreateMerchant(ctx, models.Merchant{
			Id:            m.Id,
			Name:          m.Name,
			ApiKey:        m.ApiKey,
			WebhookUrl:    m.WebhookUrl,
			WebhookSecret: m.WebhookSecret,
			WalletAddress: m.WalletAddress,
		})
		if err != nil {
			return fmt.Errorf("failed to seed merchant %s: %w", m.Id, err)
		}
		zap.L().Info("Seeded merchant from file",
			zap.String("merchant_id", m.Id),
			zap.String("name", m.Name))
	}

	return nil
}
