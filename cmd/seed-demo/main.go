package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/provalivre/exam-engine/internal/config"
	"github.com/provalivre/exam-engine/internal/database"
	"github.com/provalivre/exam-engine/internal/logger"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/provalivre/exam-engine/internal/repository"
	"github.com/provalivre/exam-engine/internal/service"
)

func main() {
	var companyID int
	flag.IntVar(&companyID, "company", 1, "Company that owns the seeded content")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	categoryRepo := repository.NewCategoryRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	applicationRepo := repository.NewApplicationRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	eventRepo := repository.NewEventRepository(pool)

	resolver := service.NewRuleResolver(examRepo, questionRepo)
	categoryService := service.NewCategoryService(categoryRepo)
	questionService := service.NewQuestionService(questionRepo)
	examService := service.NewExamService(examRepo, questionRepo, resolver, log)
	applicationService := service.NewApplicationService(applicationRepo, examRepo, attemptRepo, resolver, eventRepo, log)

	fmt.Printf("=== Seeding demo exam for company %d ===\n", companyID)

	subject, err := categoryService.CreateCategory(ctx, companyID, &model.CreateCategoryRequest{
		Name:                   "Matemática",
		AllowMultipleSelection: true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create subject category")
	}

	// Difficulty levels are mutually exclusive per question.
	difficulty, err := categoryService.CreateCategory(ctx, companyID, &model.CreateCategoryRequest{
		Name: "Dificuldade",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create difficulty category")
	}

	levels := make([]*model.Category, 0, 3)
	for _, name := range []string{"Fácil", "Média", "Difícil"} {
		level, err := categoryService.CreateCategory(ctx, companyID, &model.CreateCategoryRequest{
			Name:     name,
			ParentID: &difficulty.ID,
		})
		if err != nil {
			log.Fatal().Err(err).Str("name", name).Msg("Failed to create difficulty level")
		}
		levels = append(levels, level)
	}

	var pinnedID int
	successCount := 0
	for i := 0; i < 30; i++ {
		a, b := i+2, (i%7)+3
		req := &service.CreateQuestionRequest{
			Description: fmt.Sprintf("Quanto é %d × %d?", a, b),
			Type:        string(model.QuestionTypeOptions),
			Options: []service.CreateQuestionOption{
				{Description: fmt.Sprint(a * b), IsCorrect: true},
				{Description: fmt.Sprint(a*b + 1)},
				{Description: fmt.Sprint(a*b - 1)},
				{Description: fmt.Sprint(a + b)},
			},
		}
		if i%10 == 9 {
			maxLength := 500
			req = &service.CreateQuestionRequest{
				Description: fmt.Sprintf("Explique como calcular %d × %d sem calculadora.", a, b),
				Type:        string(model.QuestionTypeDiscursive),
				MaxLength:   &maxLength,
			}
		}

		q, err := questionService.Create(ctx, companyID, req)
		if err != nil {
			fmt.Printf("Error creating question %d: %v\n", i+1, err)
			continue
		}
		if pinnedID == 0 {
			pinnedID = q.ID
		}

		level := levels[i%len(levels)]
		for _, categoryID := range []int{subject.ID, level.ID} {
			if err := categoryService.AssignCategory(ctx, companyID, q.ID, categoryID); err != nil {
				fmt.Printf("Error linking question %d to category %d: %v\n", q.ID, categoryID, err)
			}
		}

		successCount++
		if successCount%10 == 0 {
			fmt.Printf("Created %d questions...\n", successCount)
		}
	}

	exam, err := examService.Create(ctx, companyID, &model.CreateExamRequest{
		Title:       "Simulado de Multiplicação",
		Description: "Prova de demonstração gerada pelo seed.",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	options := string(model.QuestionTypeOptions)
	discursive := string(model.QuestionTypeDiscursive)
	double := 2.0
	rules := []*model.AddExamRuleRequest{
		{QuestionID: &pinnedID},
		{QuestionsCount: 3, QuestionType: &options, CategoryIDs: []int{levels[0].ID}},
		{QuestionsCount: 3, QuestionType: &options, CategoryIDs: []int{levels[1].ID, levels[2].ID}},
		{QuestionsCount: 1, QuestionType: &discursive, Score: &double},
	}
	for _, rule := range rules {
		if _, err := examService.AddRule(ctx, companyID, exam.ID, rule); err != nil {
			log.Fatal().Err(err).Msg("Failed to add exam rule")
		}
	}

	if err := examService.Check(ctx, companyID, exam.ID); err != nil {
		log.Fatal().Err(err).Msg("Seeded exam cannot be satisfied")
	}

	limit := 30
	now := time.Now().UTC()
	app, err := applicationService.Create(ctx, companyID, &model.CreateApplicationRequest{
		ExamID:      exam.ID,
		StartedAt:   now,
		EndedAt:     now.Add(7 * 24 * time.Hour),
		Attempts:    2,
		LimitTime:   &limit,
		ShowAnswers: true,
		ShowScores:  true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	fmt.Printf("\nSeed completed! %d/30 questions, exam %d, application %d.\n", successCount, exam.ID, app.ID)
}
