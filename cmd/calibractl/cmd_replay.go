package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"Calibra/internal/di"
	"Calibra/internal/domain/models"
	internalrepo "Calibra/internal/repository"
	"Calibra/pkg/config"
	pkgkafka "Calibra/pkg/kafka"
	applogger "Calibra/pkg/logger"
)

const publishBatch = 500

type replaySummary struct {
	Outcomes    int
	Skipped     int
	Transitions []models.LifecycleDecision
	Final       map[string]models.PatternLifecycle
	Records     map[string]models.PatternRecord
}

// replay folds outcomes in log order through a fresh aggregator and
// lifecycle manager built from cfg.
func replay(cfg *config.Config, outcomes []models.Outcome) replaySummary {
	agg := di.ProvideAggregator(cfg)
	lc := di.ProvideLifecycleManager(cfg)

	s := replaySummary{
		Final:   make(map[string]models.PatternLifecycle),
		Records: make(map[string]models.PatternRecord),
	}
	for _, o := range outcomes {
		rec, err := agg.RecordOutcome(o)
		if err != nil {
			s.Skipped++
			continue
		}
		s.Outcomes++
		pp, _ := agg.PatternPair(o.Pattern, o.Symbol)
		s.Transitions = append(s.Transitions, lc.Evaluate(rec, pp, o.ResolvedAt)...)
	}
	for _, rec := range agg.Snapshot().Patterns {
		s.Records[rec.Pattern] = rec
		s.Final[rec.Pattern] = lc.State(rec.Pattern)
	}
	return s
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return err
	}
	path := cfg.Storage.OutcomeLog
	if len(args) == 1 {
		path = args[0]
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Storage.DataDir, path)
	}

	outcomes, err := internalrepo.NewFileOutcomeLog(path, false, applogger.NewNop()).ReadAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	s := replay(cfg, outcomes)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "replayed %d outcomes from %s (%d skipped)\n\n", s.Outcomes, path, s.Skipped)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tPATTERN\tSYMBOL\tFROM\tTO\tREASON")
	for _, d := range s.Transitions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Timestamp.Format("2006-01-02 15:04"), d.Pattern, d.Symbol, d.From, d.To, d.Reason)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "PATTERN\tTRADES\tWIN RATE\tEXPECTANCY\tSTATE\tMULT")
	names := make([]string, 0, len(s.Final))
	for name := range s.Final {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rec, st := s.Records[name], s.Final[name]
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.3f\t%s\t%.2f\n", name, rec.Total, rec.WinRate*100, rec.Expectancy, st.State, st.Multiplier)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !publish {
		return nil
	}
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("--publish needs kafka.enabled")
	}
	producer, err := di.ProvideKafkaProducer(cfg)
	if err != nil {
		return err
	}
	defer producer.Close()

	for start := 0; start < len(outcomes); start += publishBatch {
		end := min(start+publishBatch, len(outcomes))
		batch := make([]pkgkafka.Message, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, pkgkafka.Message{Key: []byte(outcomes[i].Pattern), Value: outcomes[i]})
		}
		if err := producer.PublishBatch(cmd.Context(), cfg.Kafka.Topics.Outcomes, batch); err != nil {
			return fmt.Errorf("publish outcomes: %w", err)
		}
	}
	fmt.Fprintf(out, "\npublished %d outcomes to %s\n", len(outcomes), cfg.Kafka.Topics.Outcomes)
	return nil
}
