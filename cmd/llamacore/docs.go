package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           llamacore API
// @version         1.0
// @description     llama.cpp-style completion, chat and embeddings with on-demand model loading.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
