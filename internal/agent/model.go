package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"

	"github.com/wwwzy/DataAgent/internal/config"
)

// NewChatModel 初始化 Ark ChatModel
func NewChatModel(ctx context.Context, arkConfig config.ArkConfig) (*ark.ChatModel, error) {
	if arkConfig.APIKey == "" || arkConfig.ModelID == "" {
		return nil, fmt.Errorf("ARK_API_KEY, ARK_MODEL_ID must be set")
	}

	temperature := arkConfig.Temperature
	cfg := &ark.ChatModelConfig{
		APIKey:      arkConfig.APIKey,
		Model:       arkConfig.ModelID,
		BaseURL:     arkConfig.BaseURL,
		Temperature: &temperature,
	}

	chatModel, err := ark.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}
	return chatModel, nil
}
