package config

const defaultTemplate = `project:
  id: %s

phases:
  BASIC_DESIGN:
    pass_score: 80
    max_iterations: 5
    max_rollbacks: 2
    criteria:
      - name: business_completeness
        weight: 30
        threshold: 30
        partial: 20
        severity: MAJOR
        message: business logic description is incomplete
        check:
          require: [business]
          any_of: [process, logic, requirement]
      - name: database_design
        weight: 25
        threshold: 25
        partial: 15
        severity: MAJOR
        message: database design is missing
        check:
          require: [database]
          any_of: [table, schema, column, entity]
      - name: architecture
        weight: 25
        threshold: 25
        partial: 15
        severity: MAJOR
        message: system architecture is unclear
        check:
          require: [architecture]
          any_of: [system, module, layer]
      - name: interface_definition
        weight: 20
        threshold: 20
        partial: 10
        severity: MINOR
        message: consider adding interface definitions
        check:
          require: [interface]
          any_of: [api, external, protocol]

  DETAIL_DESIGN:
    pass_score: 80
    max_iterations: 4
    max_rollbacks: 2
    rollback_triggers:
      database design cannot support: BASIC_DESIGN
      fundamental architecture flaw: BASIC_DESIGN
    criteria:
      - name: class_design
        weight: 30
        threshold: 30
        partial: 20
        severity: MAJOR
        message: class design is incomplete
        check:
          require: [class]
          any_of: [method, function, diagram]
      - name: data_structures
        weight: 25
        threshold: 25
        partial: 15
        severity: MAJOR
        message: data structures are not defined clearly
        check:
          any_of: [data structure, data, type]
      - name: algorithm
        weight: 25
        threshold: 25
        partial: 15
        severity: MAJOR
        message: algorithm design is missing
        check:
          any_of: [algorithm, pseudocode, logic]
      - name: module_coupling
        weight: 20
        threshold: 20
        partial: 10
        severity: MINOR
        message: consider module coupling
        check:
          any_of: [module, coupling, dependency]

  DEVELOPMENT:
    pass_score: 85
    max_iterations: 4
    max_rollbacks: 2
    rollback_triggers:
      data structure cannot be implemented: DETAIL_DESIGN
      algorithm logic flaw: DETAIL_DESIGN
      functional_completeness: DETAIL_DESIGN
    criteria:
      - name: functional_completeness
        weight: 35
        threshold: 35
        partial: 20
        severity: CRITICAL
        message: core functionality is not implemented
        check:
          any_of: ["func ", "def ", "class "]
      - name: code_standards
        weight: 25
        threshold: 25
        partial: 15
        severity: MAJOR
        message: code structure needs work
        check:
          min_lines: 21
      - name: exception_handling
        weight: 20
        threshold: 20
        partial: 10
        severity: MINOR
        message: consider adding error handling
        check:
          any_of: [try, except, error]
      - name: performance
        weight: 20
        threshold: 20
        partial: 10
        severity: MINOR
        message: consider performance optimisation
        check:
          any_of: [performance, optimi, efficien]

  UNIT_TEST:
    pass_score: 90
    max_iterations: 3
    max_rollbacks: 2
    rollback_triggers:
      core function test failed: DEVELOPMENT
      design defect: DEVELOPMENT
    criteria:
      - name: coverage
        weight: 35
        threshold: 35
        partial: 20
        severity: MINOR
        message: consider test coverage
        check:
          any_of: [coverage]
      - name: boundary_tests
        weight: 30
        threshold: 30
        partial: 20
        severity: MINOR
        message: consider adding boundary tests
        check:
          any_of: [boundary, edge]
      - name: exception_tests
        weight: 35
        threshold: 35
        partial: 20
        severity: MINOR
        message: consider adding exception tests
        check:
          any_of: [exception, error]

  INTEGRATION_TEST:
    pass_score: 95
    max_iterations: 3
    max_rollbacks: 2
    rollback_triggers:
      integration failure in core flow: DEVELOPMENT
    criteria:
      - name: integration_completeness
        weight: 40
        threshold: 40
        partial: 25
        severity: MAJOR
        message: module integration tests are missing
        check:
          any_of: [integration, module]
      - name: performance
        weight: 30
        threshold: 30
        partial: 15
        severity: MINOR
        message: consider adding performance tests
        check:
          any_of: [performance, efficien]
      - name: stability
        weight: 30
        threshold: 30
        partial: 15
        severity: MINOR
        message: consider system stability
        check:
          any_of: [stability, reliab]

workflow:
  max_total_iterations: 30
  default_extra_iterations: 1

storage:
  retry_max_elapsed: 5s
  retry_initial_interval: 50ms

producer:
  kind: static
  dir: phase_outputs
  max_tokens: 4096

logging:
  level: info
  format: console
`
