// Command examples submits a workflow to a running gisengine and waits for it.
//
//	go run ./sdk/go/examples -addr http://localhost:8080 -input sites.geojson
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gisengine/sdk/go/gisengine"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "gisengine API address")
	input := flag.String("input", "components/testdata/sites.geojson", "GeoJSON file readable by the server")
	distance := flag.Float64("distance", 25, "buffer distance")
	flag.Parse()

	client, err := gisengine.NewClient(*addr, nil)
	if err != nil {
		log.Fatal(err)
	}
	client.SetAccessToken(os.Getenv("GISENGINE_TOKEN"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	readers, err := client.ListComponents(ctx, gisengine.ComponentQuery{Type: "reader"})
	if err != nil {
		log.Fatal(err)
	}
	for _, c := range readers {
		fmt.Printf("reader %s (%s)\n", c.ID, c.Name)
	}

	run, err := client.SubmitRun(ctx, gisengine.RunRequest{
		Name: "sdk example",
		Definition: gisengine.Workflow{
			Nodes: []gisengine.Node{
				{ID: "read", ComponentID: "core.file_reader", Parameters: map[string]any{"file_path": *input}},
				{ID: "buffer", ComponentID: "core.buffer", Parameters: map[string]any{"distance": *distance}},
			},
			Connections: []gisengine.Connection{
				{FromNode: "read", FromOutput: "layer", ToNode: "buffer", ToInput: "layer"},
			},
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("submitted run %s\n", run.ID)

	done, err := client.WaitForRun(ctx, run.ID, time.Second)
	if err != nil {
		log.Fatal(err)
	}
	if done.Result != nil {
		if err := done.Result.Err(); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("run %s %s in order %v, %v features buffered\n",
			done.ID, done.Status, done.Result.ExecutionOrder, done.Result.Results["buffer"]["feature_count"])
		return
	}
	fmt.Printf("run %s %s: %s\n", done.ID, done.Status, done.LastError)
}
