// Package config loads the assetauth configuration.
//
// Configuration is a single YAML file, by default ~/.config/assetauth/config.yaml.
// A missing file is not an error: the defaults describe a file-backed store
// next to the config file and a callback server on 127.0.0.1:8085.
//
// # Example
//
//	store:
//	  backend: redis
//	  redis:
//	    address: localhost:6379
//	server:
//	  listenAddress: 0.0.0.0:8085
//	  publicUrl: https://auth.example.com
//	assets:
//	  crm:
//	    clientId: my-client
//	    clientSecret: s3cret
//	    authorizationEndpoint: https://idp.example.com/authorize
//	    tokenEndpoint: https://idp.example.com/token
//	    scopes: [read, write]
//	  reports:
//	    grantType: certificate
//	    clientId: reports-app
//	    tokenEndpoint: https://login.example.com/oauth2/v2.0/token
//	    certificateFile: /etc/assetauth/reports.crt
//	    keyFile: /etc/assetauth/reports.key
//
// Assets using the authorization code grant without a redirectUri get
// publicUrl + /oauth/callback.
package config
