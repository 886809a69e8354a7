// Package recipe defines the declarative image build descriptor.
//
// A recipe is an ordered list of stages. Each stage names a base image and
// an ordered list of steps. Steps either change the filesystem (run a shell
// command, copy files from the build context or another stage), adjust the
// state seen by later steps (environment, working directory, shell), or set
// image metadata (exposed ports, command, entrypoint). Exactly one stage is
// non-transient; it becomes the output image.
//
// Recipes are written in YAML:
//
//	manifest: requirements.txt
//	stages:
//	  - from: python:3.12-slim
//	    steps:
//	      - env: {PYTHONDONTWRITEBYTECODE: "1", PYTHONUNBUFFERED: "1"}
//	      - workdir: /app
//	      - run: apt-get update && apt-get install -y postgresql-client && rm -rf /var/lib/apt/lists/*
//	      - copy: requirements.txt .
//	      - run: pip install --upgrade pip && pip install -r requirements.txt
//	      - copy: . .
//	      - expose: ["8000"]
//	      - cmd: [python, manage.py, runserver, "0.0.0.0:8000"]
//
// They can also be imported from, and rendered to, a Dockerfile.
package recipe
