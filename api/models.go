package api

import "time"

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Result is the body of a successful broker call.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Content any    `json:"content,omitempty"`
}

type LoginRequest struct {
	APIKey   string `json:"api_key"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success   bool   `json:"success"`
	TempToken string `json:"temp_token"`
	Message   string `json:"message"`
}

type VerifySMSRequest struct {
	APIKey    string `json:"api_key"`
	TempToken string `json:"temp_token"`
	SMSCode   string `json:"sms_code"`
}

type VerifySMSResponse struct {
	Success   bool      `json:"success"`
	SessionID string    `json:"session_id"`
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expires_at"`
	Message   string    `json:"message"`
}

// SessionRequest names the session a call runs under.
type SessionRequest struct {
	SessionID  string `json:"session_id"`
	Subaccount string `json:"subaccount,omitempty"`
}

type RefreshSessionResponse struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expires_at"`
	Message   string    `json:"message"`
}

type LogoutResponse struct {
	Success bool   `json:"success"`
	Deleted bool   `json:"deleted"`
	Message string `json:"message"`
}

// SendOrderRequest carries price and lot as decimal strings.
type SendOrderRequest struct {
	SessionID  string `json:"session_id"`
	Symbol     string `json:"symbol"`
	Direction  string `json:"direction"`
	PriceType  string `json:"pricetype"`
	Price      string `json:"price"`
	Lot        string `json:"lot"`
	SMS        bool   `json:"sms"`
	Email      bool   `json:"email"`
	Subaccount string `json:"subaccount"`
}

type DeleteOrderRequest struct {
	SessionID  string `json:"session_id"`
	OrderID    string `json:"order_id"`
	Subaccount string `json:"subaccount"`
}

type ModifyOrderRequest struct {
	SessionID  string `json:"session_id"`
	OrderID    string `json:"order_id"`
	Price      string `json:"price"`
	Lot        string `json:"lot"`
	Viop       bool   `json:"viop"`
	Subaccount string `json:"subaccount"`
}

type EquityInfoRequest struct {
	SessionID string `json:"session_id"`
	Symbol    string `json:"symbol"`
}

// BrokerTestRequest is a login probe with raw credentials.
type BrokerTestRequest struct {
	APIKey   string `json:"api_key"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type BrokerTestResponse struct {
	Success    bool           `json:"success"`
	Broker     string         `json:"broker"`
	TestStatus string         `json:"test_status"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	Environment   string `json:"environment"`
	Redis         string `json:"redis"`
	SessionStore  string `json:"session_store"`
	AlgolabAPIURL string `json:"algolab_api_url"`
	MockMode      bool   `json:"mock_mode"`
}

type RootResponse struct {
	Service string  `json:"service"`
	Version string  `json:"version"`
	Status  string  `json:"status"`
	Docs    *string `json:"docs"`
}
