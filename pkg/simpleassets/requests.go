package simpleassets

// RegisterRequest contains parameters for creating an account
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest contains the credentials presented at login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateFeedbackRequest contains parameters for leaving feedback
type CreateFeedbackRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// ServiceDescriptorRequest contains the fields of a service descriptor
type ServiceDescriptorRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}
