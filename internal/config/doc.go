// Package config defines configuration structures for the docharvest CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (DOCHARVEST_ prefix)
//   - YAML configuration file
//
// Flags override the environment, which overrides the file.
//
// # Example
//
//	portal:
//	  login_url: https://portal.example.com/login
//	  search_url: https://portal.example.com/search/{entity}
//	  browse_url: https://portal.example.com/browse
//	entities: tickers.csv
//	workers: 4
//	destination: /srv/reports
//	deadlines:
//	  login: 20s
//	  fetch: 30s
//	  poll_interval: 1s
//	archive:
//	  bucket: s3://reports-mirror?region=eu-west-1
//
// Credentials are best supplied as DOCHARVEST_USER and DOCHARVEST_PIN.
package config
