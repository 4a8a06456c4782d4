package mockembed

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestMockEmbeddings(t *testing.T) {
	shutdown, baseURL, err := Start("127.0.0.1:0", Options{Dim: 16})
	if err != nil {
		t.Skipf("start mock embeddings: %v", err)
	}
	defer shutdown(context.Background())

	payload := []byte(`{"model":"mock-embed","input":["same words","same words","other"]}`)
	resp, err := http.Post(baseURL+"/embeddings", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post mock embeddings: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var body struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Data) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(body.Data))
	}
	for i, d := range body.Data {
		if d.Index != i {
			t.Fatalf("expected index %d, got %d", i, d.Index)
		}
		if len(d.Embedding) != 16 {
			t.Fatalf("expected dim 16, got %d", len(d.Embedding))
		}
	}
	for i := range body.Data[0].Embedding {
		if body.Data[0].Embedding[i] != body.Data[1].Embedding[i] {
			t.Fatalf("identical inputs produced different vectors")
		}
	}
}

func TestMockEmbeddingsSingleStringInput(t *testing.T) {
	shutdown, baseURL, err := Start("127.0.0.1:0", Options{Dim: 4})
	if err != nil {
		t.Skipf("start mock embeddings: %v", err)
	}
	defer shutdown(context.Background())

	resp, err := http.Post(baseURL+"/embeddings", "application/json", bytes.NewReader([]byte(`{"input":"hello"}`)))
	if err != nil {
		t.Fatalf("post mock embeddings: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestVectorCountsWords(t *testing.T) {
	v := Vector("Alpha alpha, ALPHA!", 8)
	var sum float32
	for _, x := range v {
		sum += x
	}
	if sum != 3 {
		t.Fatalf("expected 3 counted words, got %v", sum)
	}
}
