package domain

// ModelOption describes a model offered by the remote catalog.
type ModelOption struct {
	Provider    string `json:"provider" yaml:"provider"`
	ModelName   string `json:"model_name" yaml:"model_name"`
	BaseURL     string `json:"base_url,omitempty" yaml:"base_url"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name"`
}

// ModelConfig binds a model to one agent role for one user.
type ModelConfig struct {
	UserID    string `json:"user_id"`
	AgentType string `json:"agent_type"`
	Provider  string `json:"provider"`
	APIKey    string `json:"api_key"`
	ModelName string `json:"model_name"`
	BaseURL   string `json:"base_url,omitempty"`
}
