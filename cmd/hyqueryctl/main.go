// Command hyqueryctl is a small CLI for inspecting a running HyQuery
// instance's admin API. It only reads — there is nothing to mutate on this
// surface.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8089", "admin API base URL")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: hyqueryctl [-addr URL] <registry|aggregate|host|config>")
		os.Exit(2)
	}

	client := &http.Client{Timeout: 5 * time.Second}

	switch flag.Arg(0) {
	case "registry":
		printJSONTable(client, *addr+"/status/registry")
	case "aggregate":
		printAggregate(client, *addr+"/status/aggregate?players=true")
	case "host":
		printJSONTable(client, *addr+"/status/host")
	case "config":
		printJSONTable(client, *addr+"/status/config")
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", flag.Arg(0))
		os.Exit(2)
	}
}

func fetch(client *http.Client, url string) (map[string]interface{}, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", url, string(body))
	}

	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func printJSONTable(client *http.Client, url string) {
	data, err := fetch(client, url)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	for k, v := range data {
		table.Append([]string{k, fmt.Sprintf("%v", v)})
	}
	table.Render()
}

func printAggregate(client *http.Client, url string) {
	data, err := fetch(client, url)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("total online: %v / %v\n\n", data["totalOnline"], data["totalMax"])

	servers, _ := data["remoteServers"].([]interface{})
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Online", "Max", "Updated (ms)"})
	for _, s := range servers {
		m, ok := s.(map[string]interface{})
		if !ok {
			continue
		}
		table.Append([]string{
			fmt.Sprintf("%v", m["ID"]),
			fmt.Sprintf("%v", m["Name"]),
			fmt.Sprintf("%v", m["Online"]),
			fmt.Sprintf("%v", m["Max"]),
			fmt.Sprintf("%v", m["UpdatedAtMillis"]),
		})
	}
	table.Render()
}
