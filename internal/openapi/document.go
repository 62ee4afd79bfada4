package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Title is the document title served at /openapi.json.
const Title = "ICJIA Accessibility Status API"

// Component schema names.
const (
	schemaError       = "ErrorResponse"
	schemaAPIKey      = "APIKey"
	schemaNewAPIKey   = "NewAPIKey"
	schemaAdminUser   = "AdminUser"
	schemaActivity    = "ActivityEntry"
	schemaStats       = "RotationStats"
	schemaKeyIdentity = "KeyIdentity"
)

// Security scheme names.
const (
	securityBearer  = "bearerAuth"
	securitySession = "sessionCookie"
)

// Document builds the OpenAPI 3 description of the HTTP API. version is the
// build version reported in Info.
func Document(baseURL, version string) *openapi3.T {
	if version == "" {
		version = "dev"
	}
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       Title,
			Description: "Session-authenticated admin API and API-key-authenticated external API.",
			Version:     version,
		},
	}
	if baseURL != "" {
		doc.Servers = openapi3.Servers{{URL: baseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas
	components.SecuritySchemes = openapi3.SecuritySchemes{
		securityBearer: &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:        "http",
				Scheme:      "bearer",
				Description: "API key in the form sk_live_<64 hex> or sk_test_<64 hex>.",
			},
		},
		securitySession: &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type: "apiKey",
				In:   "cookie",
				Name: "session_token",
			},
		},
	}
	doc.Components = &components
	doc.Paths = openapi3.NewPaths()

	addAuthPaths(doc)
	addAPIKeyPaths(doc)
	addAdminPaths(doc)
	addExternalPaths(doc)
	return doc
}

// ─── Paths ──────────────────────────────────────────────────────────────────

func addAuthPaths(doc *openapi3.T) {
	login := &openapi3.Operation{
		Tags:        []string{"auth"},
		Summary:     "Log in",
		Description: "Verifies admin credentials and sets the session cookie. Limited per IP.",
		OperationID: "login",
		RequestBody: jsonBody("Admin credentials", objectSchema(props{
			"username": stringSchema(),
			"password": stringSchema(),
		}, "username", "password")),
		Responses: newResponses("200", "Logged in", objectSchema(props{
			"user":       ref(schemaAdminUser),
			"expires_at": dateTimeSchema(),
		})),
	}
	login.Responses.Set("429", errorResponse("Too many login attempts"))

	logout := &openapi3.Operation{
		Tags:        []string{"auth"},
		Summary:     "Log out",
		OperationID: "logout",
		Security:    sessionOnly(),
		Responses:   newResponses("200", "Logged out", messageSchema()),
	}
	doc.Paths.Set("/api/v1/auth/session", &openapi3.PathItem{Post: login, Delete: logout})

	doc.Paths.Set("/api/v1/auth/me", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"auth"},
			Summary:     "Current admin user",
			OperationID: "me",
			Security:    sessionOnly(),
			Responses:   newResponses("200", "The logged in admin", objectSchema(props{"user": ref(schemaAdminUser)})),
		},
	})
}

func addAPIKeyPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/system/api-key", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "List API keys",
			Description: "Keys are listed with their masked display_key only.",
			OperationID: "listAPIKeys",
			Security:    sessionOnly(),
			Parameters:  pageParameters(),
			Responses:   newResponses("200", "A page of API keys", listSchema(schemaAPIKey)),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Create an API key",
			Description: "The response carries full_key. It is never shown again.",
			OperationID: "createAPIKey",
			Security:    sessionOnly(),
			RequestBody: jsonBody("Key to create", objectSchema(props{
				"key_name":    stringSchema(),
				"environment": enumSchema("live", "test"),
				"scopes":      arraySchema(enumSchema("sites:read", "sites:write", "sites:delete")),
				"expires_at":  dateTimeSchema(),
				"notes":       stringSchema(),
			}, "key_name")),
			Responses: newResponses("201", "Created key", objectSchema(props{
				"apiKey":  ref(schemaNewAPIKey),
				"warning": stringSchema(),
			})),
		},
	})

	doc.Paths.Set("/api/v1/system/api-key/stats/rotation", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Rotation statistics",
			OperationID: "rotationStats",
			Security:    sessionOnly(),
			Responses: newResponses("200", "Key population summary", objectSchema(props{
				"stats":     ref(schemaStats),
				"timestamp": dateTimeSchema(),
			})),
		},
	})

	keyID := openapi3.Parameters{{Value: openapi3.NewPathParameter("keyId").
		WithDescription("API key ID.").
		WithSchema(openapi3.NewStringSchema())}}

	doc.Paths.Set("/api/v1/system/api-key/{keyId}", &openapi3.PathItem{
		Parameters: keyID,
		Put: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Update an API key",
			Description: "Only provided fields change. expires_at: null removes the expiry.",
			OperationID: "updateAPIKey",
			Security:    sessionOnly(),
			RequestBody: jsonBody("Fields to change", objectSchema(props{
				"key_name":   stringSchema(),
				"scopes":     arraySchema(enumSchema("sites:read", "sites:write", "sites:delete")),
				"is_active":  boolSchema(),
				"expires_at": nullable(dateTimeSchema()),
				"notes":      stringSchema(),
			})),
			Responses: newResponses("200", "Updated key", objectSchema(props{
				"message": stringSchema(),
				"apiKey":  ref(schemaAPIKey),
			})),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Delete an API key",
			OperationID: "deleteAPIKey",
			Security:    sessionOnly(),
			Responses:   newResponses("200", "Deleted", messageSchema()),
		},
	})

	doc.Paths.Set("/api/v1/system/api-key/{keyId}/revoke", &openapi3.PathItem{
		Parameters: keyID,
		Post: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Revoke an API key",
			Description: "Deactivates the key immediately and keeps its record.",
			OperationID: "revokeAPIKey",
			Security:    sessionOnly(),
			Responses: newResponses("200", "Revoked key", objectSchema(props{
				"message": stringSchema(),
				"apiKey":  ref(schemaAPIKey),
			})),
		},
	})

	doc.Paths.Set("/api/v1/system/api-key/{keyId}/rotate", &openapi3.PathItem{
		Parameters: keyID,
		Post: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Rotate an API key",
			Description: "Issues a replacement key. The old key stays valid for the grace period.",
			OperationID: "rotateAPIKey",
			Security:    sessionOnly(),
			RequestBody: optionalJSONBody("Grace period override", objectSchema(props{
				"grace_period_days": intSchema(),
			})),
			Responses: newResponses("201", "Rotated", objectSchema(props{
				"message": stringSchema(),
				"newKey":  ref(schemaNewAPIKey),
				"oldKey": objectSchema(props{
					"id":                      stringSchema(),
					"key_name":                stringSchema(),
					"grace_period_expires_at": dateTimeSchema(),
					"grace_period_days":       intSchema(),
				}),
				"warning": stringSchema(),
			})),
		},
	})
}

func addAdminPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/system/admin", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"admins"},
			Summary:     "List admin users",
			OperationID: "listAdmins",
			Security:    sessionOnly(),
			Responses:   newResponses("200", "Admin users", listSchema(schemaAdminUser)),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"admins"},
			Summary:     "Create an admin user",
			OperationID: "createAdmin",
			Security:    sessionOnly(),
			RequestBody: jsonBody("New admin", objectSchema(props{
				"username": stringSchema(),
				"email":    stringSchema(),
				"password": stringSchema(),
			}, "username", "email", "password")),
			Responses: newResponses("201", "Created admin", ref(schemaAdminUser)),
		},
	})

	params := pageParameters()
	for _, name := range []string{"event_type", "severity", "user_id", "api_key_id"} {
		params = append(params, &openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter(name).
				WithDescription("Only entries whose " + name + " matches.").
				WithSchema(openapi3.NewStringSchema()),
		})
	}
	doc.Paths.Set("/api/v1/system/activity-log", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"activity"},
			Summary:     "Activity log",
			Description: "Audit trail, newest first. Metadata is sanitized before storage.",
			OperationID: "listActivity",
			Security:    sessionOnly(),
			Parameters:  params,
			Responses:   newResponses("200", "A page of activity entries", listSchema(schemaActivity)),
		},
	})
}

func addExternalPaths(doc *openapi3.T) {
	op := &openapi3.Operation{
		Tags:        []string{"external"},
		Summary:     "Identify the calling API key",
		Description: "Requires the sites:read scope. Each key may make a limited number of requests per hour.",
		OperationID: "whoami",
		Security:    &openapi3.SecurityRequirements{{securityBearer: {}}},
		Responses:   newResponses("200", "The resolved key", ref(schemaKeyIdentity)),
	}
	op.Responses.Set("403", errorResponse("Missing scope"))
	op.Responses.Set("429", errorResponse("Hourly quota exceeded"))
	doc.Paths.Set("/api/v1/external/whoami", &openapi3.PathItem{Get: op})
}

// ─── Schema Builders ────────────────────────────────────────────────────────

type props = openapi3.Schemas

var componentSchemas = schemas()

func schemas() openapi3.Schemas {
	apiKey := props{
		"id":                      stringSchema(),
		"key_name":                stringSchema(),
		"display_key":             stringSchema(),
		"environment":             enumSchema("live", "test"),
		"scopes":                  arraySchema(stringSchema()),
		"is_active":               boolSchema(),
		"usage_count":             int64Schema(),
		"created_by":              stringSchema(),
		"created_at":              dateTimeSchema(),
		"updated_at":              dateTimeSchema(),
		"last_used_at":            dateTimeSchema(),
		"expires_at":              dateTimeSchema(),
		"notes":                   stringSchema(),
		"rotated_from_key_id":     stringSchema(),
		"grace_period_expires_at": dateTimeSchema(),
	}
	newKey := props{"full_key": stringSchema()}
	for k, v := range apiKey {
		newKey[k] = v
	}

	return openapi3.Schemas{
		schemaError: objectSchema(props{
			"error": objectSchema(props{
				"code":    intSchema(),
				"message": stringSchema(),
				"context": objectSchema(props{
					"reason":      stringSchema(),
					"retry_after": intSchema(),
				}),
			}),
		}),
		schemaAPIKey:    objectSchema(apiKey),
		schemaNewAPIKey: objectSchema(newKey),
		schemaAdminUser: objectSchema(props{
			"id":         stringSchema(),
			"username":   stringSchema(),
			"email":      stringSchema(),
			"created_by": stringSchema(),
			"created_at": dateTimeSchema(),
			"updated_at": dateTimeSchema(),
		}),
		schemaActivity: objectSchema(props{
			"id":                 stringSchema(),
			"event_type":         stringSchema(),
			"description":        stringSchema(),
			"severity":           enumSchema("info", "warning", "error", "critical"),
			"created_by_user":    stringSchema(),
			"created_by_api_key": stringSchema(),
			"ip_address":         stringSchema(),
			"user_agent":         stringSchema(),
			"metadata":           objectSchema(nil),
			"created_at":         dateTimeSchema(),
		}),
		schemaStats: objectSchema(props{
			"total_keys":           intSchema(),
			"active_keys":          intSchema(),
			"inactive_keys":        intSchema(),
			"keys_in_grace_period": intSchema(),
			"rotated_keys":         intSchema(),
		}),
		schemaKeyIdentity: objectSchema(props{
			"id":         stringSchema(),
			"key_name":   stringSchema(),
			"scopes":     arraySchema(stringSchema()),
			"created_by": stringSchema(),
		}),
	}
}

// ref points at a component schema. The value is carried alongside the
// reference so the document validates without a resolve pass.
func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, componentSchemas[name].Value)
}

func objectSchema(p props, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: p,
		Required:   required,
	}}
}

func arraySchema(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: items,
	}}
}

func stringSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: openapi3.NewStringSchema()}
}

func enumSchema(values ...string) *openapi3.SchemaRef {
	s := openapi3.NewStringSchema()
	for _, v := range values {
		s.Enum = append(s.Enum, v)
	}
	return &openapi3.SchemaRef{Value: s}
}

func dateTimeSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}}
}

func intSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}}
}

func int64Schema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}
}

func boolSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}
}

func nullable(s *openapi3.SchemaRef) *openapi3.SchemaRef {
	s.Value.Nullable = true
	return s
}

func messageSchema() *openapi3.SchemaRef {
	return objectSchema(props{"message": stringSchema()})
}

// listSchema is the resource/meta envelope of list endpoints.
func listSchema(item string) *openapi3.SchemaRef {
	return objectSchema(props{
		"resource": arraySchema(ref(item)),
		"meta": objectSchema(props{
			"count":  intSchema(),
			"total":  int64Schema(),
			"limit":  intSchema(),
			"offset": intSchema(),
		}),
	})
}

// ─── Operation Helpers ──────────────────────────────────────────────────────

func sessionOnly() *openapi3.SecurityRequirements {
	return &openapi3.SecurityRequirements{{securitySession: {}}}
}

func jsonBody(description string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	body := optionalJSONBody(description, schema)
	body.Value.Required = true
	return body
}

func optionalJSONBody(description string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
		Description: description,
		Content:     openapi3.NewContentWithJSONSchemaRef(schema),
	}}
}

func pageParameters() openapi3.Parameters {
	return openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("limit").
				WithDescription("Maximum number of records to return (1-500, default 50).").
				WithSchema(&openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("offset").
				WithDescription("Number of records to skip.").
				WithSchema(&openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}),
		},
	}
}

func errorResponse(description string) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{Value: &openapi3.Response{
		Description: &description,
		Content:     openapi3.NewContentWithJSONSchemaRef(ref(schemaError)),
	}}
}

// newResponses builds a Responses map with a success response and the
// standard error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &description,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})
	responses.Set("400", errorResponse("Bad request"))
	responses.Set("401", errorResponse("Unauthorized"))
	responses.Set("404", errorResponse("Not found"))
	responses.Set("500", errorResponse("Internal server error"))
	return responses
}
