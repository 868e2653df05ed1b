package model

type UserInfo struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Picture      string `json:"picture,omitempty"`
	Subscription string `json:"subscription,omitempty"`
}

type UserSettings struct {
	KeyMessageTags []string `json:"key_message_tags"`
}

// AuthResult is what /user/login and /user/signup return.
type AuthResult struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

type CheckoutSession struct {
	SessionID    string `json:"session_id"`
	ClientSecret string `json:"client_secret"`
}

type CheckoutStatus struct {
	Status        string `json:"status"`
	CustomerEmail string `json:"customer_email"`
}
