// mockprovider is a local OpenAI-compatible stub for development and load
// testing: point PROVIDER_BASE_URL at it and the router runs without real
// model credentials. Latency and failure behavior are tunable by flag.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type chatCompletionRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens int `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func main() {
	addr := flag.String("addr", ":8888", "Server address")
	latency := flag.Duration("latency", 200*time.Millisecond, "Simulated model latency")
	failureRate := flag.Float64("failure-rate", 0, "Fraction of calls answered with HTTP 500")
	flag.Parse()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/chat/completions", func(c *gin.Context) {
		var req chatCompletionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "invalid request"}})
			return
		}

		time.Sleep(*latency)

		if *failureRate > 0 && rand.Float64() < *failureRate {
			c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "simulated failure"}})
			return
		}

		prompt := ""
		if len(req.Messages) > 0 {
			prompt = req.Messages[len(req.Messages)-1].Content
		}

		resp := chatCompletionResponse{
			ID:      "chatcmpl-" + uuid.New().String(),
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   req.Model,
		}
		resp.Choices = make([]struct {
			Index   int `json:"index"`
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		}, 1)
		resp.Choices[0].Message.Role = "assistant"
		resp.Choices[0].Message.Content = fmt.Sprintf("[%s] resposta simulada para: %s", req.Model, prompt)
		resp.Choices[0].FinishReason = "stop"

		promptTokens := 0
		for _, m := range req.Messages {
			promptTokens += len(strings.Fields(m.Content))
		}
		resp.Usage.PromptTokens = promptTokens
		resp.Usage.CompletionTokens = len(strings.Fields(resp.Choices[0].Message.Content))
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens

		c.JSON(http.StatusOK, resp)
	})

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down mock provider...")
		os.Exit(0)
	}()

	log.Printf("Starting mock model provider on %s (latency %s, failure rate %.2f)",
		*addr, *latency, *failureRate)
	if err := router.Run(*addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
