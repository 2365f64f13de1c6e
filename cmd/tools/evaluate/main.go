// cmd/tools/evaluate/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"pet-health-workers/internal/common/camunda"
	"pet-health-workers/internal/common/config"
	"pet-health-workers/internal/common/credentials"
	"pet-health-workers/internal/common/database"
	"pet-health-workers/internal/common/genai"
	"pet-health-workers/internal/common/logger"
	"pet-health-workers/internal/models"

	bhp "pet-health-workers/internal/workers/pet-health/build-health-prompt"
	ga "pet-health-workers/internal/workers/pet-health/generate-assessment"
	ser "pet-health-workers/internal/workers/pet-health/save-evaluation-record"
	um "pet-health-workers/internal/workers/pet-health/upload-media"
)

type options struct {
	configPath  string
	answersPath string
	mediaPath   string
	language    string
	ownerName   string
	ownerEmail  string
	ownerPhone  string
	promptOnly  bool
	save        bool
	submit      bool
	timeout     time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to config file (default: configs/config.yaml lookup)")
	flag.StringVar(&opts.answersPath, "answers", "-", "Answer set JSON file, - for stdin")
	flag.StringVar(&opts.mediaPath, "media", "", "Optional video to attach (mp4, mov, avi)")
	flag.StringVar(&opts.language, "lang", "", "Prompt language (en, es); overrides the answer set")
	flag.StringVar(&opts.ownerName, "owner-name", "", "Owner name stored with the record")
	flag.StringVar(&opts.ownerEmail, "owner-email", "", "Owner email stored with the record")
	flag.StringVar(&opts.ownerPhone, "owner-phone", "", "Owner phone stored with the record")
	flag.BoolVar(&opts.promptOnly, "prompt-only", false, "Print the prompt and exit without calling the model")
	flag.BoolVar(&opts.save, "save", false, "Persist the evaluation record")
	flag.BoolVar(&opts.submit, "submit", false, "Start the BPMN process instead of running locally")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Overall deadline")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	log := logger.NewStructured(cfg.Logging.Level, "console", "stderr")

	answers, err := readAnswers(opts.answersPath)
	if err != nil {
		return err
	}
	if opts.language != "" {
		answers.Language = opts.language
	}
	owner := models.OwnerContact{Name: opts.ownerName, Email: opts.ownerEmail, Phone: opts.ownerPhone}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if opts.submit {
		return submit(ctx, cfg, answers, owner, opts.mediaPath)
	}

	rotator, err := credentials.New(cfg.GenAI, nil)
	if err != nil {
		return err
	}

	var media *models.Media
	if opts.mediaPath != "" {
		files := genai.NewFileClient(cfg.GenAI.BaseURL, cfg.GenAI.UploadURL, time.Duration(cfg.GenAI.Timeout)*time.Millisecond)
		uploader := um.NewHandler(um.ConfigFrom(cfg.Media), files, rotator, log)
		out, err := uploader.Execute(ctx, &um.Input{MediaPath: opts.mediaPath})
		if err != nil {
			return fmt.Errorf("upload media: %w", err)
		}
		fmt.Fprintf(os.Stderr, "media: %s %s\n", out.MediaStatus, out.MediaError)
		media = out.Media
		answers.Media = media
	}

	promptCfg := bhp.LoadConfig()
	promptCfg.DefaultLanguage = cfg.GenAI.Language
	builder, err := bhp.NewHandler(promptCfg, log)
	if err != nil {
		return err
	}
	prompt, err := builder.Execute(ctx, &bhp.Input{Answers: answers})
	if err != nil {
		return err
	}
	if opts.promptOnly {
		fmt.Println(prompt.Prompt)
		return nil
	}

	generator, err := genai.NewGenerator(cfg.GenAI)
	if err != nil {
		return err
	}
	assess := ga.NewHandler(ga.ConfigFrom(cfg.GenAI, config.GetWorkerConfig(cfg, ga.TaskType)), generator, rotator, log)
	assessment, err := assess.Execute(ctx, &ga.Input{Prompt: prompt.Prompt, Language: prompt.Language, Media: media})
	if err != nil {
		return err
	}
	fmt.Println(assessment.AssessmentText)

	if !opts.save {
		return nil
	}

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()
	if cfg.Database.Postgres.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
	}

	var indexer ser.Indexer
	if cfg.Database.Elasticsearch.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		indexer = es
	}

	recordCfg := ser.LoadConfig()
	recordCfg.SearchIndex = cfg.Database.Elasticsearch.Index
	saved, err := ser.NewHandler(recordCfg, pg.DB, indexer, log).Execute(ctx, &ser.Input{
		Answers:        answers,
		Owner:          owner,
		Prompt:         prompt.Prompt,
		AssessmentText: assessment.AssessmentText,
		Outcome:        assessment.Outcome,
		Media:          media,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "saved evaluation %s\n", saved.EvaluationID)
	return nil
}

func submit(ctx context.Context, cfg *config.Config, answers models.AnswerSet, owner models.OwnerContact, mediaPath string) error {
	client, err := camunda.NewClientWithConfig(camunda.ClientConfigFrom(cfg.Camunda))
	if err != nil {
		return err
	}
	defer client.Close()

	key, err := client.StartEvaluation(ctx, map[string]interface{}{
		"answers":   answers,
		"owner":     owner,
		"mediaPath": mediaPath,
		"language":  answers.Lang(),
	})
	if err != nil {
		return err
	}
	fmt.Printf("started %s instance %d\n", camunda.EvaluationProcessID, key)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func readAnswers(path string) (models.AnswerSet, error) {
	var answers models.AnswerSet

	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return answers, fmt.Errorf("open answers: %w", err)
		}
		defer f.Close()
		r = f
	}

	if err := json.NewDecoder(r).Decode(&answers); err != nil {
		return answers, fmt.Errorf("decode answers: %w", err)
	}
	return answers, nil
}
