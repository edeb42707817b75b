// ember-fakeagent runs the in-process fake backend as a standalone server,
// for developing the client against without a real agent deployment.
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/ember-chat/ember/internal/fakeagent"
)

func main() {
	addr := flag.String("addr", ":8420", "listen address")
	token := flag.String("token", "", "bearer token required from clients (empty disables auth)")
	flag.Parse()

	if err := run(*addr, *token); err != nil {
		log.Fatal(err)
	}
}

func run(addr, token string) error {
	srv := fakeagent.New(fakeagent.Options{Token: token})
	log.Printf("[fakeagent] listening on %s", addr)
	return http.ListenAndServe(addr, srv.Router())
}
