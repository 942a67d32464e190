package usercontext

// Locals keys shared by the middlewares and controllers.
const (
	KeyUserContext = "USER_CONTEXT"
	KeyUserID      = "user_id"
	KeyAuthMethod  = "auth_method"
)

const (
	AuthAPIKey = "api_key"
	AuthAdmin  = "basic"
)
