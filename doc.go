/*
Package filedrop is a small file-drop web application built around a concurrency-safe session store.

A visitor opens the index page and receives an anonymous session. One uploaded file is stored
under the visitor's identifier, and the index page links to it afterwards. Operators can dump
live sessions over HTTP or manage them from the CLI.

# Architecture

The session store contract lives in pkg/ports and has three implementations:

  - pkg/adapters/memory: a single-mutex in-process table with an explicit expiry policy.
  - pkg/adapters/redis: a shared backend with native key expiry and a distributed locker.
  - pkg/adapters/file: one JSON file per session, written atomically.

pkg/persistence/middleware decorates any store with encryption, redaction, logging and
metrics. pkg/session turns a store into HTTP session handling with signed cookies.

# Usage

	cfg, err := config.Load("filedrop.yaml")
	if err != nil {
		log.Fatal(err)
	}

	app, err := filedrop.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	go app.Run(ctx) // background expiry sweeps
	log.Fatal(http.ListenAndServe(cfg.Addr(), app.Handler()))
*/
package filedrop
