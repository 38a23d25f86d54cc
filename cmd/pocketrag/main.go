// Package main provides the pocketrag CLI.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/born-ml/pocketrag/internal/config"
	"github.com/born-ml/pocketrag/internal/engine"
	"github.com/born-ml/pocketrag/internal/generate"
	"github.com/born-ml/pocketrag/internal/rag"
	"github.com/born-ml/pocketrag/internal/retrieval"
	"github.com/born-ml/pocketrag/internal/tokenizer"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

const version = "v0.1.0-dev"

var (
	flagConfig    = flag.String("config", "", "YAML config file. Without one, the testing model and defaults are used.")
	flagThreshold = flag.Float64("threshold", -2, "Similarity threshold for retrieved documents (default: from config).")
	flagStream    = flag.Bool("stream", false, "Print the answer token by token (ask).")
	flagFile      = flag.String("file", "", "Add one document per line of this file (add).")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "pocketrag %s - on-device retrieval-augmented generation\n\n", version)
	fmt.Fprintln(out, "Usage: pocketrag [flags] <command> [args]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  version               Show version")
	fmt.Fprintln(out, "  config                Print the effective configuration")
	fmt.Fprintln(out, "  tokenize <text>       Print the token IDs of text")
	fmt.Fprintln(out, "  detokenize <id>...    Print the text of token IDs")
	fmt.Fprintln(out, "  add <text>            Store a document (or -file)")
	fmt.Fprintln(out, "  delete <text>         Remove a document")
	fmt.Fprintln(out, "  clear                 Remove every document")
	fmt.Fprintln(out, "  prompt <question>     Print the prompt built for question")
	fmt.Fprintln(out, "  ask <question>        Answer question")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Flags:")
	flag.PrintDefaults()
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()
	defer klog.Flush()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		klog.ErrorS(err, "Command failed", "command", flag.Arg(0))
		klog.Flush()
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string, out io.Writer) error {
	if command == "version" {
		fmt.Fprintf(out, "pocketrag %s\n", version)
		return nil
	}

	cfg, err := loadConfig(*flagConfig)
	if err != nil {
		return err
	}
	threshold := cfg.Retrieval.Threshold
	if *flagThreshold >= -1 {
		threshold = *flagThreshold
	}
	text := strings.Join(args, " ")

	switch command {
	case "config":
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err

	case "tokenize":
		tok, err := tokenizer.AutoLoadTokenizer(cfg.Tokenizer.Path)
		if err != nil {
			return err
		}
		tokens, err := tok.Encode(text)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, formatTokens(tokens))
		return nil

	case "detokenize":
		tok, err := tokenizer.AutoLoadTokenizer(cfg.Tokenizer.Path)
		if err != nil {
			return err
		}
		tokens, err := parseTokens(args)
		if err != nil {
			return err
		}
		decoded, err := tok.Decode(tokens)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, decoded)
		return nil
	}

	store, err := retrieval.Open(ctx, cfg.Retrieval.Database, retrieval.NewHashingEmbedder(cfg.Retrieval.Dimensions))
	if err != nil {
		return err
	}
	defer store.Close()
	client := rag.New(store, rag.WithSearchLimit(cfg.Retrieval.Limit))

	switch command {
	case "add":
		if *flagFile != "" {
			return addFile(ctx, client, *flagFile)
		}
		return client.Add(ctx, text)

	case "delete":
		return client.Delete(ctx, text)

	case "clear":
		return client.Clean(ctx)

	case "prompt":
		p, err := client.Prompt(ctx, text, threshold)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, p)
		return nil

	case "ask":
		return ask(ctx, cfg, client, text, threshold, out)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.Default()
		cfg.Model.Type = config.ModelTesting
		klog.V(1).InfoS("No config file, using defaults and the testing model")
		return cfg, nil
	}
	return config.Load(path)
}

// openModel builds the model named by cfg. The returned func releases it.
func openModel(ctx context.Context, cfg config.Config) (generate.Model, func(), error) {
	if cfg.Model.Type == config.ModelTesting {
		return generate.NewTestingModel(), func() {}, nil
	}

	tok, err := tokenizer.AutoLoadTokenizer(cfg.Tokenizer.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("load tokenizer: %w", err)
	}

	onnx, err := engine.NewONNX(cfg.ONNXConfig())
	if err != nil {
		return nil, nil, err
	}
	eng := engine.NewGuard(onnx)

	sessionConfig, err := cfg.SessionConfig()
	if err != nil {
		eng.Close()
		return nil, nil, err
	}

	session, err := generate.NewSession(ctx, eng, tok, sessionConfig)
	if err != nil {
		eng.Close()
		return nil, nil, err
	}

	klog.InfoS("Loaded model", "path", cfg.Model.Path, "vocabSize", eng.VocabSize(), "maximumContext", sessionConfig.MaximumContext)
	return session, func() {
		session.Close()
		if err := eng.Close(); err != nil {
			klog.ErrorS(err, "Failed to close engine")
		}
	}, nil
}

func ask(ctx context.Context, cfg config.Config, client *rag.Client, question string, threshold float64, out io.Writer) error {
	model, release, err := openModel(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()
	client.Load(model)

	session, streaming := model.(*generate.Session)
	if *flagStream && streaming {
		return stream(ctx, client, session, question, threshold, out)
	}

	pred, err := client.Ask(ctx, question, threshold)
	if errors.Is(err, generate.ErrContextLimitExceeded) {
		// The session has already rebalanced; one retry is allowed.
		klog.InfoS("Context limit reached, retrying")
		pred, err = client.Ask(ctx, question, threshold)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out, pred.Text)
	klog.V(1).InfoS("Answered", "elapsed", pred.Elapsed)
	return nil
}

func stream(ctx context.Context, client *rag.Client, session *generate.Session, question string, threshold float64, out io.Writer) error {
	p, err := client.Prompt(ctx, question, threshold)
	if err != nil {
		return err
	}

	ch, err := session.GenerateStream(ctx, p)
	if err != nil {
		return err
	}

	first := true
	for res := range ch {
		if res.Done {
			fmt.Fprintln(out)
			if res.Error != nil {
				return res.Error
			}
			klog.V(1).InfoS("Generation finished", "reason", res.Reason)
			return nil
		}
		piece := res.Token
		if first {
			piece = strings.TrimPrefix(piece, " ")
			first = false
		}
		fmt.Fprint(out, piece)
	}
	return ctx.Err()
}

func addFile(ctx context.Context, client *rag.Client, path string) error {
	//nolint:gosec // Reading a user-specified document file is intentional.
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var docs []string
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			docs = append(docs, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(docs),
		progressbar.OptionSetDescription("Adding documents"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	skipped := 0
	for _, doc := range docs {
		if err := client.Add(ctx, doc); err != nil {
			if !errors.Is(err, retrieval.ErrEmbeddingFailure) {
				return err
			}
			skipped++
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	klog.InfoS("Added documents", "added", len(docs)-skipped, "skipped", skipped)
	return nil
}

func formatTokens(tokens []int32) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = strconv.Itoa(int(t))
	}
	return strings.Join(parts, " ")
}

func parseTokens(args []string) ([]int32, error) {
	var tokens []int32
	for _, arg := range args {
		for _, field := range strings.Fields(arg) {
			id, err := strconv.ParseInt(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bad token id %q: %w", field, err)
			}
			tokens = append(tokens, int32(id))
		}
	}
	return tokens, nil
}
