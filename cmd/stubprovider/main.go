// Package main provides a stub generation provider for local testing.
// It speaks the chat-completions wire format: requests with image
// modalities get a tiny base64 PNG back, everything else gets a canned
// style-set JSON. Failure injection via flags makes it useful for
// exercising retries and circuit breakers.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

// 1x1 transparent PNG.
const stubImage = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

const stubStyles = `{"product_name":"Stub Product","styles":[` +
	`{"style_name":"Lifestyle","prompt":"product on a wooden table in warm daylight"},` +
	`{"style_name":"Studio","prompt":"product on white seamless background, softbox lighting"},` +
	`{"style_name":"Interior","prompt":"product on a shelf in a modern living room"},` +
	`{"style_name":"Creative","prompt":"product surrounded by floating geometric shapes"}]}`

func main() {
	port := flag.Int("port", 3001, "port to listen on")
	name := flag.String("name", "stubprovider", "service name")
	failEvery := flag.Int("fail-every", 0, "return 503 for every Nth request (0 disables)")
	failFirst := flag.Int("fail-first", 0, "return 503 for the first N requests")
	latency := flag.Duration("latency", 0, "artificial response latency")
	flag.Parse()

	if p := os.Getenv("PORT"); p != "" {
		fmt.Sscanf(p, "%d", port)
	}

	var requests atomic.Int64

	http.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)

		if *latency > 0 {
			time.Sleep(*latency)
		}

		if (*failFirst > 0 && n <= int64(*failFirst)) ||
			(*failEvery > 0 && n%int64(*failEvery) == 0) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{"message": "injected failure", "code": 503},
			})
			return
		}

		var req struct {
			Modalities []string `json:"modalities"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		wantsImage := false
		for _, m := range req.Modalities {
			if m == "image" {
				wantsImage = true
			}
		}

		var message map[string]interface{}
		if wantsImage {
			message = map[string]interface{}{
				"content": "",
				"images": []map[string]interface{}{
					{"image_url": map[string]string{"url": stubImage}},
				},
			}
		} else {
			message = map[string]interface{}{"content": stubStyles}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": message}},
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("%s listening on %s", *name, addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
