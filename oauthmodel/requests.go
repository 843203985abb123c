package oauthmodel

type SignUpRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// SignUpResponse carries the provider assigned subject and where the
// confirmation code was sent.
type SignUpResponse struct {
	UserSub             string               `json:"user_sub"`
	UserConfirmed       bool                 `json:"user_confirmed,omitempty"`
	CodeDeliveryDetails *CodeDeliveryDetails `json:"code_delivery_details,omitempty"`
}

// CodeDeliveryDetails describes where a confirmation or reset code went.
// Example: {"destination": "u***@example.com", "delivery_medium": "EMAIL", "attribute_name": "email"}
type CodeDeliveryDetails struct {
	Destination    string `json:"destination,omitempty"`
	DeliveryMedium string `json:"delivery_medium,omitempty"`
	AttributeName  string `json:"attribute_name,omitempty"`
}

type CodeDeliveryResponse struct {
	CodeDeliveryDetails *CodeDeliveryDetails `json:"code_delivery_details,omitempty"`
}

type ConfirmSignUpRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type ConfirmForgotPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}
