package types

// GenerateRequest is the payload for POST /generate and /generate/image.
type GenerateRequest struct {
	// User whose personalized model should be used. Falls back to the
	// configured default model when the user has no mapping.
	// example: user_123
	UserID string `json:"user_id" example:"user_123"`
	// Required text prompt.
	// example: aurel_person person riding a bike, golden hour
	Prompt string `json:"prompt" example:"aurel_person person riding a bike, golden hour"`
	// Number of denoising steps, 1-150. Zero selects the server default.
	// example: 30
	NumInferenceSteps int `json:"num_inference_steps,omitempty" example:"30"`
	// Classifier-free guidance scale, 1.0-20.0. Zero selects the server default.
	// example: 7.5
	GuidanceScale float64 `json:"guidance_scale,omitempty" example:"7.5"`
	// Output width in pixels, 256-1024. Zero selects the server default.
	// example: 512
	Width int `json:"width,omitempty" example:"512"`
	// Output height in pixels, 256-1024. Zero selects the server default.
	// example: 512
	Height int `json:"height,omitempty" example:"512"`
	// Random seed for reproducibility; omitted means non-deterministic output.
	// example: 42
	Seed *int64 `json:"seed,omitempty" example:"42"`
}

// GenerateResponse wraps a base64-encoded generation result.
type GenerateResponse struct {
	Success bool `json:"success" example:"true"`
	// example: Image generated successfully
	Message string `json:"message" example:"Image generated successfully"`
	// PNG bytes, base64-encoded.
	ImageBase64 string `json:"image_base64"`
	// Model actually used; differs from the resolved id when the loader
	// substituted the fallback model.
	// example: aurel_person
	ModelID string `json:"model_id" example:"aurel_person"`
	// Wall-clock generation time in seconds.
	// example: 4.2
	GenerationTime float64 `json:"generation_time" example:"4.2"`
}

// TrainResponse is returned by POST /train with status 202.
type TrainResponse struct {
	Success bool `json:"success" example:"true"`
	// example: Training started for model 'aurel_person'.
	Message string `json:"message"`
	// example: aurel_person
	ModelIdentifier string `json:"model_identifier" example:"aurel_person"`
	// example: train_ab12cd34
	TrainingID string `json:"training_id" example:"train_ab12cd34"`
	// Number of uploaded images accepted and persisted.
	// example: 12
	ImagesSaved int `json:"images_saved" example:"12"`
	// Rough wall-clock estimate, minutes.
	// example: 50
	EstimatedTimeMinutes int `json:"estimated_time_minutes" example:"50"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// example: cuda
	Device string `json:"device" example:"cuda"`
	// Number of models resident in the cache.
	// example: 2
	ModelsLoaded int `json:"models_loaded" example:"2"`
	// Number of training jobs currently pending or running.
	// example: 1
	ActiveJobs int `json:"active_jobs" example:"1"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
