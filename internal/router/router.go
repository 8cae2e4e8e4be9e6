package router

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/provalivre/exam-engine/internal/config"
	"github.com/provalivre/exam-engine/internal/handler"
	"github.com/provalivre/exam-engine/internal/middleware"
		"github.com/provalivre/exam-engine/internal/service"
	"github.com/rs/zerolog"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Health      *handler.HealthHandler
	Category    *handler.CategoryHandler
	Question    *handler.QuestionHandler
	Exam        *handler.ExamHandler
	Application *handler.ApplicationHandler
	Attempt     *handler.AttemptHandler
	Monitor     *handler.MonitorHandler
	WS          *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	startLimiter *middleware.StartRateLimiter,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(log), gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// xlsx exports are zip archives already.
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:   middleware.DefaultBrotliConfig.Quality,
		MinLength: middleware.DefaultBrotliConfig.MinLength,
		Skipper: func(c *gin.Context) bool {
			return strings.HasSuffix(c.Request.URL.Path, "/export")
		},
	}))

	router.GET("/health", handlers.Health.Health)

	// ─── 1. Staff Group (JWT + staff role) ─────────────────────────────
	staffAPI := router.Group("/api/v1/staff")
	staffAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(service.RoleStaff),
	)
	{
		// Category tree
		staffAPI.GET("/categories", handlers.Category.ListCategories)
		staffAPI.POST("/categories", handlers.Category.CreateCategory)
		staffAPI.DELETE("/categories/:category_id", handlers.Category.DeleteCategory)

		// Question bank
		staffAPI.GET("/questions", handlers.Question.ListQuestions)
		staffAPI.POST("/questions", handlers.Question.CreateQuestion)
		staffAPI.GET("/questions/:question_id", handlers.Question.GetQuestion)
		staffAPI.PATCH("/questions/:question_id", handlers.Question.SetQuestionEnabled)
		staffAPI.POST("/questions/:question_id/categories", handlers.Category.AssignCategory)
		staffAPI.POST("/questions/:question_id/categories/validate", handlers.Category.ValidateAssignment)
		staffAPI.DELETE("/questions/:question_id/categories/:category_id", handlers.Category.UnassignCategory)

		// Exams and rules
		staffAPI.GET("/exams", handlers.Exam.ListExams)
		staffAPI.POST("/exams", handlers.Exam.CreateExam)
		staffAPI.GET("/exams/:exam_id", handlers.Exam.GetExam)
		staffAPI.POST("/exams/:exam_id/rules", handlers.Exam.AddRule)
		staffAPI.DELETE("/exams/:exam_id/rules/:rule_id", handlers.Exam.DeleteRule)
		staffAPI.POST("/exams/:exam_id/check", handlers.Exam.CheckExam)

		// Applications and results
		staffAPI.GET("/applications", handlers.Application.ListApplications)
		staffAPI.POST("/applications", handlers.Application.CreateApplication)
		staffAPI.GET("/applications/:application_id", handlers.Application.GetApplication)
		staffAPI.GET("/applications/:application_id/results", handlers.Application.GetResults)
		staffAPI.GET("/applications/:application_id/results/export", handlers.Application.ExportResults)
		staffAPI.GET("/applications/:application_id/attempts/:attempt_id/events", handlers.Application.GetAttemptEvents)
		staffAPI.GET("/applications/:application_id/monitor", handlers.Monitor.MonitorApplicationSSE)
	}

	// ─── 2. Student Group (JWT + student role) ─────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(service.RoleStudent),
	)
	{
		studentAPI.GET("/applications", handlers.Attempt.Lobby)
		studentAPI.GET("/applications/:application_id", handlers.Attempt.GetState)
		studentAPI.POST("/applications/:application_id/attempts",
			startLimiter.Middleware(),
			handlers.Attempt.StartAttempt,
		)
		studentAPI.GET("/attempts/:attempt_id", handlers.Attempt.GetAttempt)
		studentAPI.PUT("/attempts/:attempt_id/answers/:question_id", handlers.Attempt.SaveAnswer)
		studentAPI.POST("/attempts/:attempt_id/submit", handlers.Attempt.SubmitAttempt)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
