package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"RM-Copilot/sdk/go/copilot"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "copilotd base URL")
	query := flag.String("query", "What is the balance of account ACC-123?", "query to run")
	async := flag.Bool("async", false, "submit through /api/v1/runs instead of /chat")
	flag.Parse()

	client, err := copilot.NewClient(*baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var resp *copilot.Response
	if *async {
		run, err := client.SubmitRun(ctx, "", *query)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("submitted run %s (status=%s)\n", run.ID, run.Status)
		for !run.Done() {
			if run, err = client.GetRun(ctx, run.ID, 30*time.Second); err != nil {
				log.Fatal(err)
			}
		}
		if run.Status != "succeeded" {
			log.Fatalf("run %s failed: %s", run.ID, run.LastError)
		}
		resp = run.Result
	} else {
		if resp, err = client.Chat(ctx, *query); err != nil {
			log.Fatal(err)
		}
	}

	for _, step := range resp.Plan.Steps {
		fmt.Printf("step %d: %s\n", step.StepNumber, step.Description)
	}
	fmt.Printf("verification: %s\n", resp.VerificationStatus)
	fmt.Println(resp.FinalAnswer)
}
